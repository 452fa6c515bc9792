package state

import (
	"fmt"
	"regexp"
	"strings"
)

// Payload limits.
const (
	MaxStateLength    = 255
	MaxAttributes     = 100
	MaxAttributeKey   = 64
	MaxAttributeDepth = 5
)

var (
	entityIDPattern     = regexp.MustCompile(`^[a-z0-9_]+\.[a-z0-9_]+$`)
	attributeKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	servicePattern      = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)?$`)
	scriptPattern       = regexp.MustCompile(`(?i)<\s*/?\s*script|javascript\s*:|vbscript\s*:|data\s*:\s*text/html|\bon[a-z]+\s*=`)
)

// PartialState is a requested change to an entity.
type PartialState struct {
	State      string         `json:"state,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	// Service overrides the state to service mapping, as "service" or
	// "domain.service".
	Service string `json:"service,omitempty"`
}

// ValidateEntityID checks the "<domain>.<object_id>" format.
func ValidateEntityID(id string) error {
	if !entityIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidEntityID, id)
	}
	return nil
}

// Validate checks the payload before it is sent to the hub.
func (p PartialState) Validate() error {
	if p.State == "" && len(p.Attributes) == 0 && p.Service == "" {
		return fmt.Errorf("%w: empty update", ErrInvalidState)
	}
	if len(p.State) > MaxStateLength {
		return fmt.Errorf("%w: state longer than %d", ErrInvalidState, MaxStateLength)
	}
	if scriptPattern.MatchString(p.State) {
		return fmt.Errorf("%w: state contains script content", ErrInvalidState)
	}
	if p.Service != "" && !servicePattern.MatchString(p.Service) {
		return fmt.Errorf("%w: service %q", ErrInvalidState, p.Service)
	}
	if len(p.Attributes) > MaxAttributes {
		return fmt.Errorf("%w: more than %d attributes", ErrInvalidState, MaxAttributes)
	}
	for k, v := range p.Attributes {
		if len(k) > MaxAttributeKey || !attributeKeyPattern.MatchString(k) {
			return fmt.Errorf("%w: attribute key %q", ErrInvalidState, k)
		}
		if err := validateValue(k, v, 1); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(path string, v any, depth int) error {
	if depth > MaxAttributeDepth {
		return fmt.Errorf("%w: %s nested deeper than %d", ErrInvalidState, path, MaxAttributeDepth)
	}

	switch val := v.(type) {
	case string:
		if scriptPattern.MatchString(val) {
			return fmt.Errorf("%w: %s contains script content", ErrInvalidState, path)
		}
	case map[string]any:
		for k, child := range val {
			if err := validateValue(path+"."+k, child, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for i, child := range val {
			if err := validateValue(fmt.Sprintf("%s[%d]", path, i), child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// serviceFor maps a change to the hub service that performs it.
func serviceFor(entityID string, p PartialState) (domain, service string, err error) {
	domain, _, _ = strings.Cut(entityID, ".")

	if p.Service != "" {
		if d, s, ok := strings.Cut(p.Service, "."); ok {
			return d, s, nil
		}
		return domain, p.Service, nil
	}

	switch p.State {
	case "on":
		return domain, "turn_on", nil
	case "off":
		return domain, "turn_off", nil
	case "open":
		return domain, "open_cover", nil
	case "closed":
		return domain, "close_cover", nil
	case "locked":
		return domain, "lock", nil
	case "unlocked":
		return domain, "unlock", nil
	case "":
		if len(p.Attributes) > 0 {
			return domain, "turn_on", nil
		}
	}
	return "", "", fmt.Errorf("%w: no service for state %q", ErrInvalidState, p.State)
}
