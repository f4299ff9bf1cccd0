package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/carecompanion/internal/domain"
)

// Location is a coordinate pair.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PreferenceRequest is the payload for creating or updating a preference.
type PreferenceRequest struct {
	DeviceID     string   `json:"device_id"`
	Name         string   `json:"name"`
	Age          int      `json:"age"`
	Location     Location `json:"location"`
	Activities   []string `json:"activities"`
	Topics       []string `json:"topics"`
	ChatTimes    []string `json:"chat_times"`
	ActivityType string   `json:"activity_type"`
	LookingFor   []string `json:"looking_for"`
}

// Preference is the stored preference returned by the backend.
type Preference struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// ProfileToPreference converts an onboarding profile into the backend
// payload. Age must be a number and location must read "lat, lng".
func ProfileToPreference(deviceID string, p domain.Profile) (PreferenceRequest, error) {
	age, err := ParseAge(p.Age)
	if err != nil {
		return PreferenceRequest{}, err
	}
	loc, err := ParseLocation(p.Location)
	if err != nil {
		return PreferenceRequest{}, err
	}

	req := PreferenceRequest{
		DeviceID:   deviceID,
		Name:       strings.TrimSpace(p.Name),
		Age:        age,
		Location:   loc,
		Activities: nonNil(p.Activities),
		Topics:     nonNil(p.Topics),
		ChatTimes:  []string{},
		LookingFor: nonNil(p.Goals),
	}
	if p.ChatTime != nil {
		req.ChatTimes = []string{string(*p.ChatTime)}
	}
	if p.ActivityPlace != nil {
		req.ActivityType = string(*p.ActivityPlace)
	}
	return req, nil
}

// ParseAge reads an age entered as free text. Leading digits are used, so
// "78 years" is 78.
func ParseAge(s string) (int, error) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("%w: age %q is not a number", domain.ErrValidation, s)
	}
	age, err := strconv.Atoi(s[:end])
	if err != nil || age <= 0 || age > 150 {
		return 0, fmt.Errorf("%w: age %q is out of range", domain.ErrValidation, s)
	}
	return age, nil
}

// ParseLocation reads a "lat, lng" pair.
func ParseLocation(s string) (Location, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 {
		return Location{}, fmt.Errorf("%w: location %q is not \"lat, lng\"", domain.ErrValidation, s)
	}
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, errLng := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLat != nil || errLng != nil {
		return Location{}, fmt.Errorf("%w: could not read location %q", domain.ErrValidation, s)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return Location{}, fmt.Errorf("%w: location %q is out of range", domain.ErrValidation, s)
	}
	return Location{Latitude: lat, Longitude: lng}, nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// CreatePreference stores a new preference.
func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	body, err := c.doJSON(ctx, http.MethodPost, "/preferences/", req)
	if err != nil {
		return Preference{}, err
	}
	return decodePreference(body)
}

// UpdatePreference replaces an existing preference.
func (c *Client) UpdatePreference(ctx context.Context, id string, req PreferenceRequest) (Preference, error) {
	if strings.TrimSpace(id) == "" {
		return Preference{}, fmt.Errorf("%w: preference id is empty", domain.ErrValidation)
	}
	body, err := c.doJSON(ctx, http.MethodPut, "/preferences/"+url.PathEscape(id), req)
	if err != nil {
		return Preference{}, err
	}
	return decodePreference(body)
}

func decodePreference(body []byte) (Preference, error) {
	var p Preference
	if err := json.Unmarshal(body, &p); err != nil {
		return Preference{}, fmt.Errorf("%w: decode preference: %v", domain.ErrNetwork, err)
	}
	if p.ID == "" {
		return Preference{}, fmt.Errorf("%w: preference response has no id", domain.ErrNetwork)
	}
	return p, nil
}
