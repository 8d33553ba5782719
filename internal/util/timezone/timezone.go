package timezone

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// Load liefert die Zeitzone für Zeitstempel der Frame-Ergebnisse.
// Reihenfolge: name aus der Konfiguration, dann TZ, dann UTC.
func Load(name string) *time.Location {
	if name == "" {
		name = os.Getenv("TZ")
	}
	if name == "" {
		return time.UTC
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warnf("Failed to load timezone %s: %v. Falling back to UTC.", name, err)
		return time.UTC
	}

	log.Infof("Using timezone %s", name)
	return loc
}

// Clock liefert eine Uhr, deren Zeiten in loc angegeben sind
func Clock(loc *time.Location) func() time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return func() time.Time {
		return time.Now().In(loc)
	}
}
