// Package notify renders and delivers per-cycle messages through Shoutrrr.
package notify

import (
	"fmt"
	"net/url"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// Ref is a configured notification target.
type Ref struct {
	URL      string
	Template string
}

// Target holds a fully resolved notification target ready to send.
type Target struct {
	Service string
	URL     string
	Message string
}

// ResolveTargets renders the message template of every ref.
func ResolveTargets(refs []Ref, data TemplateData) ([]Target, error) {
	targets := make([]Target, 0, len(refs))

	for _, ref := range refs {
		name := serviceName(ref.URL)

		tmplStr := ref.Template
		if tmplStr == "" {
			tmplStr = DefaultTemplate
		}

		msg, err := Render(tmplStr, data)
		if err != nil {
			return nil, fmt.Errorf("rendering template for %s: %w", name, err)
		}

		targets = append(targets, Target{
			Service: name,
			URL:     ref.URL,
			Message: msg,
		})
	}

	return targets, nil
}

// serviceName is the URL scheme, which never carries credentials.
func serviceName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "unknown"
	}
	return u.Scheme
}

// Validate checks that a sender can be built for the target without
// delivering anything.
func Validate(t Target) error {
	if _, err := shoutrrr.CreateSender(t.URL); err != nil {
		return fmt.Errorf("creating sender for %s: %w", t.Service, err)
	}
	return nil
}

// Send delivers a notification to a single target via Shoutrrr.
func Send(t Target) error {
	sender, err := shoutrrr.CreateSender(t.URL)
	if err != nil {
		return fmt.Errorf("creating sender for %s: %w", t.Service, err)
	}

	params := types.Params{}
	errs := sender.Send(t.Message, &params)
	for _, e := range errs {
		if e != nil {
			return fmt.Errorf("sending to %s: %w", t.Service, e)
		}
	}

	return nil
}
