package calendar

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Config selects the calendar and the service account used to write it.
type Config struct {
	CredentialsFile string
	CalendarID      string
}

// googleEvents talks to one calendar of the Calendar API.
type googleEvents struct {
	srv        *gcal.Service
	calendarID string
}

// NewGoogleMirror authenticates with a service account key and returns a
// mirror writing to cfg.CalendarID. The calendar must be shared with the
// service account.
func NewGoogleMirror(ctx context.Context, cfg Config, opts ...Option) (*Mirror, error) {
	if cfg.CalendarID == "" {
		return nil, fmt.Errorf("calendar id is required")
	}
	b, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read service account file: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(b, gcal.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse service account file: %w", err)
	}

	srv, err := gcal.NewService(ctx, option.WithHTTPClient(conf.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Calendar client: %w", err)
	}
	return newMirror(&googleEvents{srv: srv, calendarID: cfg.CalendarID}, opts...), nil
}

func (g *googleEvents) find(ctx context.Context, taskID string) (*gcal.Event, error) {
	events, err := g.srv.Events.List(g.calendarID).
		PrivateExtendedProperty(fmt.Sprintf("%s=%s", TaskIDProperty, taskID)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	if len(events.Items) > 0 {
		return events.Items[0], nil
	}
	return nil, nil
}

func (g *googleEvents) insert(ctx context.Context, ev *gcal.Event) (*gcal.Event, error) {
	return g.srv.Events.Insert(g.calendarID, ev).Context(ctx).Do()
}

func (g *googleEvents) patch(ctx context.Context, eventID string, ev *gcal.Event) (*gcal.Event, error) {
	return g.srv.Events.Patch(g.calendarID, eventID, ev).Context(ctx).Do()
}

func (g *googleEvents) delete(ctx context.Context, eventID string) error {
	return g.srv.Events.Delete(g.calendarID, eventID).Context(ctx).Do()
}
