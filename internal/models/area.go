package models

// Area is the tracked city: a display name and the center that anchors both
// the source search and the quadrant split.
type Area struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// TelAviv is the default area.
var TelAviv = Area{Name: "Tel Aviv", Lat: 32.0809, Lng: 34.7806}

// ZoneOf assigns a coordinate to a quadrant around the area center.
// Points on a center line fall north or east.
func (a Area) ZoneOf(lat, lng float64) Zone {
	north := lat >= a.Lat
	east := lng >= a.Lng
	switch {
	case north && east:
		return ZoneNE
	case north:
		return ZoneNW
	case east:
		return ZoneSE
	default:
		return ZoneSW
	}
}
