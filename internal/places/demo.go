package places

import (
	"context"

	"github.com/rewired-gh/crowdpulse/internal/models"
)

// ProviderDemo names the static panel.
const ProviderDemo = "demo"

var demoPanel = []models.EntityObservation{
	{ID: "demo_1", Name: "Dizengoff Burger", Lat: 32.0858, Lng: 34.7818, Rating: 4.2, RatingCount: 650},
	{ID: "demo_2", Name: "Allenby Falafel Hub", Lat: 32.0707, Lng: 34.7732, Rating: 4.5, RatingCount: 410},
	{ID: "demo_3", Name: "Rothschild Sabich", Lat: 32.0643, Lng: 34.7766, Rating: 4.4, RatingCount: 532},
	{ID: "demo_4", Name: "Ibn Gabirol Shawarma", Lat: 32.0912, Lng: 34.7811, Rating: 4.1, RatingCount: 295},
	{ID: "demo_5", Name: "Carmel Chicken Stop", Lat: 32.0696, Lng: 34.7694, Rating: 4.0, RatingCount: 180},
	{ID: "demo_6", Name: "Florentin Slice Bar", Lat: 32.0558, Lng: 34.7715, Rating: 4.3, RatingCount: 260},
	{ID: "demo_7", Name: "Azrieli Noodle Express", Lat: 32.0742, Lng: 34.7925, Rating: 3.9, RatingCount: 322},
	{ID: "demo_8", Name: "King George Wraps", Lat: 32.0736, Lng: 34.7771, Rating: 4.2, RatingCount: 487},
	{ID: "demo_9", Name: "Port Pita Station", Lat: 32.0974, Lng: 34.7737, Rating: 4.1, RatingCount: 378},
	{ID: "demo_10", Name: "Sarona Grill Box", Lat: 32.0718, Lng: 34.7878, Rating: 4.3, RatingCount: 440},
	{ID: "demo_11", Name: "Yehuda Halevi Toast", Lat: 32.0623, Lng: 34.7768, Rating: 3.8, RatingCount: 150},
	{ID: "demo_12", Name: "TLV Taco Counter", Lat: 32.0812, Lng: 34.7689, Rating: 4.5, RatingCount: 505},
}

// DemoPanel returns a fresh copy of the static panel.
func DemoPanel() []models.EntityObservation {
	out := make([]models.EntityObservation, len(demoPanel))
	copy(out, demoPanel)
	return out
}

// Demo serves the static panel. It never fails.
type Demo struct{}

// Fetch returns up to req.MaxEntities demo businesses.
func (Demo) Fetch(_ context.Context, req Request) (Batch, error) {
	return Batch{
		Entities: capEntities(DemoPanel(), req.MaxEntities),
		Provider: ProviderDemo,
		Fallback: true,
	}, nil
}
