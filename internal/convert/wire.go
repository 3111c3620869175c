// Package convert maps domain models to wire payloads and back.
package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/clinic-sync/internal/api"
	"github.com/and161185/clinic-sync/internal/model"
)

// --- Users ---

// UserFromPayload builds the device user from a server payload with the given local status.
func UserFromPayload(p api.LoggedInUserPayload, st model.LoggedInStatus) model.User {
	return model.User{
		ID:             p.ID,
		FullName:       p.FullName,
		PhoneNumber:    p.PhoneNumber,
		PinDigest:      p.PinDigest,
		Status:         p.Status,
		LoggedInStatus: st,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// PayloadFromUser builds a registration payload from the device user and its facilities.
func PayloadFromUser(u model.User, facilityIDs []uuid.UUID) api.LoggedInUserPayload {
	return api.LoggedInUserPayload{
		ID:          u.ID,
		FullName:    u.FullName,
		PhoneNumber: u.PhoneNumber,
		PinDigest:   u.PinDigest,
		FacilityIDs: append([]uuid.UUID(nil), facilityIDs...),
		Status:      u.Status,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// AccountFromPayload converts a registration payload into a server account.
func AccountFromPayload(p api.LoggedInUserPayload) model.UserAccount {
	return model.UserAccount{
		ID:          p.ID,
		FullName:    p.FullName,
		PhoneNumber: p.PhoneNumber,
		PinDigest:   p.PinDigest,
		Status:      p.Status,
		FacilityIDs: append([]uuid.UUID(nil), p.FacilityIDs...),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// PayloadFromAccount converts a server account into its wire form.
func PayloadFromAccount(a model.UserAccount) api.LoggedInUserPayload {
	return api.LoggedInUserPayload{
		ID:          a.ID,
		FullName:    a.FullName,
		PhoneNumber: a.PhoneNumber,
		PinDigest:   a.PinDigest,
		FacilityIDs: append([]uuid.UUID(nil), a.FacilityIDs...),
		Status:      a.Status,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

// --- Records (client -> server) ---

// ChangesFromPush splits a pushed JSON array into record changes. Only the common record
// fields are interpreted; the payload is stored as sent.
func ChangesFromPush(r model.Resource, records json.RawMessage) ([]model.RecordChange, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(records, &raw); err != nil {
		return nil, fmt.Errorf("records: %w", err)
	}
	out := make([]model.RecordChange, 0, len(raw))
	for i, p := range raw {
		var m model.Meta
		if err := json.Unmarshal(p, &m); err != nil {
			return nil, fmt.Errorf("record[%d]: %w", i, err)
		}
		if m.ID == uuid.Nil {
			return nil, fmt.Errorf("record[%d]: empty id", i)
		}
		if m.UpdatedAt.IsZero() {
			return nil, fmt.Errorf("record[%d]: empty updated_at", i)
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, p); err != nil {
			return nil, fmt.Errorf("record[%d]: %w", i, err)
		}
		out = append(out, model.RecordChange{
			Resource:  r,
			ID:        m.ID,
			Payload:   compact.Bytes(),
			UpdatedAt: m.UpdatedAt.UTC(),
			Deleted:   m.DeletedAt != nil,
		})
	}
	return out, nil
}

// --- Records (server -> client) ---

// RecordsJSON joins stored payloads into the JSON array sent in a pull page.
func RecordsJSON(changes []model.RecordChange) json.RawMessage {
	var b bytes.Buffer
	b.WriteByte('[')
	for i, c := range changes {
		if i > 0 {
			b.WriteByte(',')
		}
		b.Write(c.Payload)
	}
	b.WriteByte(']')
	return b.Bytes()
}

// ChangeFromRecord wraps a typed record (e.g. a seeded facility) as a server change.
func ChangeFromRecord(r model.Resource, rec model.Record) (model.RecordChange, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return model.RecordChange{}, err
	}
	return model.RecordChange{
		Resource:  r,
		ID:        rec.RecordID(),
		Payload:   b,
		UpdatedAt: rec.LastUpdated().UTC(),
		Deleted:   rec.IsDeleted(),
	}, nil
}

// ts normalises a timestamp for storage, defaulting zero values to now.
func ts(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// StampAccount fills missing timestamps on a new account.
func StampAccount(a model.UserAccount) model.UserAccount {
	a.CreatedAt = ts(a.CreatedAt)
	a.UpdatedAt = ts(a.UpdatedAt)
	return a
}
