package domain

// Weather is the five-valued mood classification that drives the client's
// ambient visuals.
type Weather string

const (
	WeatherStorm    Weather = "storm"
	WeatherRain     Weather = "rain"
	WeatherCloudy   Weather = "cloudy"
	WeatherClearing Weather = "clearing"
	WeatherSunny    Weather = "sunny"
)
