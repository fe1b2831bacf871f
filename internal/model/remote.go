// internal/model/remote.go
package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	custom_errors "sipp-sync/internal/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ExternalID is the SIPP identifier of a record. SIPP emits it either as a
// JSON number or a string; both decode to the same value.
type ExternalID string

func (id *ExternalID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ExternalID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return err
	}
	*id = ExternalID(n.String())
	return nil
}

// RemoteEntity is implemented by every SIPP payload type.
type RemoteEntity interface {
	Key() string
	Label() string
	LastModified() time.Time
}

// RemoteCaseType is a SIPP case classification (jenis perkara).
type RemoteCaseType struct {
	ID        ExternalID `json:"id" validate:"required"`
	Code      string     `json:"code" validate:"required,max=50"`
	Name      string     `json:"name" validate:"required,max=255"`
	Category  string     `json:"category,omitempty" validate:"omitempty,max=100"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (r *RemoteCaseType) Key() string             { return string(r.ID) }
func (r *RemoteCaseType) Label() string           { return r.Code + " " + r.Name }
func (r *RemoteCaseType) LastModified() time.Time { return r.UpdatedAt }

// RemoteCourtRoom is a hearing room.
type RemoteCourtRoom struct {
	ID        ExternalID `json:"id" validate:"required"`
	Code      string     `json:"code" validate:"required,max=50"`
	Name      string     `json:"name" validate:"required,max=255"`
	Capacity  int        `json:"capacity,omitempty" validate:"gte=0"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (r *RemoteCourtRoom) Key() string             { return string(r.ID) }
func (r *RemoteCourtRoom) Label() string           { return r.Name }
func (r *RemoteCourtRoom) LastModified() time.Time { return r.UpdatedAt }

// RemoteJudge is a judge registered in SIPP.
type RemoteJudge struct {
	ID        ExternalID `json:"id" validate:"required"`
	NIP       string     `json:"nip" validate:"required,numeric,max=30"`
	Name      string     `json:"name" validate:"required,max=255"`
	Title     string     `json:"title,omitempty" validate:"omitempty,max=100"`
	Active    bool       `json:"active"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (r *RemoteJudge) Key() string             { return string(r.ID) }
func (r *RemoteJudge) Label() string           { return r.Name }
func (r *RemoteJudge) LastModified() time.Time { return r.UpdatedAt }

// RemoteCase is a registered case (perkara).
type RemoteCase struct {
	ID           ExternalID `json:"id" validate:"required"`
	CaseNumber   string     `json:"case_number" validate:"required,max=100"`
	CaseTypeCode string     `json:"case_type_code" validate:"required,max=50"`
	RegisteredAt string     `json:"registered_at" validate:"required,datetime=2006-01-02"`
	Parties      string     `json:"parties,omitempty"`
	Status       string     `json:"status,omitempty" validate:"omitempty,max=100"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (r *RemoteCase) Key() string             { return string(r.ID) }
func (r *RemoteCase) Label() string           { return r.CaseNumber }
func (r *RemoteCase) LastModified() time.Time { return r.UpdatedAt }

// RemoteCourtSchedule is one hearing on the court calendar (jadwal sidang).
type RemoteCourtSchedule struct {
	ID            ExternalID `json:"id" validate:"required"`
	CaseNumber    string     `json:"case_number" validate:"required,max=100"`
	HearingDate   string     `json:"hearing_date" validate:"required,datetime=2006-01-02"`
	StartTime     string     `json:"start_time,omitempty" validate:"omitempty,datetime=15:04"`
	CourtRoomCode string     `json:"court_room_code,omitempty" validate:"omitempty,max=50"`
	Agenda        string     `json:"agenda,omitempty" validate:"omitempty,max=500"`
	JudgeNames    []string   `json:"judge_names,omitempty" validate:"omitempty,dive,required"`
	Status        string     `json:"status,omitempty" validate:"omitempty,oneof=scheduled postponed completed cancelled"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (r *RemoteCourtSchedule) Key() string             { return string(r.ID) }
func (r *RemoteCourtSchedule) Label() string           { return r.CaseNumber + " @ " + r.HearingDate }
func (r *RemoteCourtSchedule) LastModified() time.Time { return r.UpdatedAt }

var remoteFactories = map[EntityType]func() RemoteEntity{
	EntityCaseTypes:      func() RemoteEntity { return &RemoteCaseType{} },
	EntityCourtRooms:     func() RemoteEntity { return &RemoteCourtRoom{} },
	EntityJudges:         func() RemoteEntity { return &RemoteJudge{} },
	EntityCases:          func() RemoteEntity { return &RemoteCase{} },
	EntityCourtSchedules: func() RemoteEntity { return &RemoteCourtSchedule{} },
}

// RemoteRecord is a decoded, validated SIPP record ready to be stored.
type RemoteRecord struct {
	ExternalID      string
	Label           string
	Attributes      []byte
	Checksum        string
	RemoteUpdatedAt time.Time
}

// DecodeRecord turns one raw SIPP record into a RemoteRecord. Any decoding or
// validation failure is returned as a *errors.ValidationError carrying the
// external id when it could be read.
func DecodeRecord(entity EntityType, raw []byte) (RemoteRecord, error) {
	factory, ok := remoteFactories[entity]
	if !ok {
		return RemoteRecord{}, &custom_errors.ErrUnknownEntityType{Name: string(entity)}
	}

	v := factory()
	if err := json.Unmarshal(raw, v); err != nil {
		return RemoteRecord{}, &custom_errors.ValidationError{ExternalID: peekID(raw), Err: err}
	}
	if err := getValidator().Struct(v); err != nil {
		return RemoteRecord{}, &custom_errors.ValidationError{ExternalID: v.Key(), Err: err}
	}

	attrs, err := json.Marshal(v)
	if err != nil {
		return RemoteRecord{}, &custom_errors.ValidationError{ExternalID: v.Key(), Err: err}
	}
	sum := sha256.Sum256(attrs)

	return RemoteRecord{
		ExternalID:      v.Key(),
		Label:           v.Label(),
		Attributes:      attrs,
		Checksum:        hex.EncodeToString(sum[:]),
		RemoteUpdatedAt: v.LastModified(),
	}, nil
}

// peekID extracts the id of a record whose full payload did not decode.
func peekID(raw []byte) string {
	var probe struct {
		ID ExternalID `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return string(probe.ID)
}

// Validate checks v against its `validate` struct tags.
func Validate(v any) error {
	return getValidator().Struct(v)
}
