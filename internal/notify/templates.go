package notify

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type Type string

const (
	BusDelayed     Type = "BUS_DELAYED"
	BusArriving    Type = "BUS_ARRIVING"
	BusNearby      Type = "BUS_NEARBY"
	BusCancelled   Type = "BUS_CANCELLED"
	NextStop       Type = "NEXT_STOP"
	TripStarted    Type = "TRIP_STARTED"
	TripEnded      Type = "TRIP_ENDED"
	EmergencyAlert Type = "EMERGENCY_ALERT"
	RouteChange    Type = "ROUTE_CHANGE"
	DriverAssigned Type = "DRIVER_ASSIGNED"
)

const DefaultLanguage = "en"

var supportedLanguages = map[string]bool{"en": true, "hi": true, "te": true}

// Language returns lang when it is supported, otherwise DefaultLanguage.
func Language(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if supportedLanguages[lang] {
		return lang
	}
	return DefaultLanguage
}

type Message struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

var fallbackMessage = Message{
	Title: "Notification",
	Body:  "You have a new notification.",
}

//go:embed templates.yaml
var catalogYAML []byte

// Catalog holds every template per type and language.
type Catalog struct {
	templates map[Type]map[string]Message
}

func LoadCatalog(raw []byte) (*Catalog, error) {
	var templates map[Type]map[string]Message
	if err := yaml.Unmarshal(raw, &templates); err != nil {
		return nil, fmt.Errorf("parse notification templates: %w", err)
	}
	for typ, langs := range templates {
		if _, ok := langs[DefaultLanguage]; !ok {
			return nil, fmt.Errorf("template %s has no %q variant", typ, DefaultLanguage)
		}
	}
	return &Catalog{templates: templates}, nil
}

// DefaultCatalog parses the embedded templates. It panics on a malformed
// catalog since that can only be a build-time mistake.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(catalogYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// Render interpolates {{key}} placeholders in the template for typ and
// lang. Unknown types render the generic fallback; unknown languages fall
// back to English. Placeholders without a parameter are left as written.
func (c *Catalog) Render(typ Type, lang string, params map[string]string) Message {
	langs, ok := c.templates[typ]
	if !ok {
		return fallbackMessage
	}
	tmpl, ok := langs[Language(lang)]
	if !ok {
		tmpl = langs[DefaultLanguage]
	}

	pairs := make([]string, 0, len(params)*2)
	for k, v := range params {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return Message{
		Title: r.Replace(tmpl.Title),
		Body:  r.Replace(tmpl.Body),
	}
}
