package jsonstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbaranowski/loom"
)

// envelope is the v1 wire format for a persisted session and its messages.
type envelope struct {
	Version  int          `json:"version"`
	Session  sessionDTO   `json:"session"`
	Messages []messageDTO `json:"messages"`
}

type sessionDTO struct {
	ID        string     `json:"id"`
	ParentID  string     `json:"parent_id,omitempty"`
	Directory string     `json:"directory,omitempty"`
	Title     string     `json:"title,omitempty"`
	Created   time.Time  `json:"created"`
	Updated   time.Time  `json:"updated"`
	Archived  *time.Time `json:"archived,omitempty"`
	Revert    *revertDTO `json:"revert,omitempty"`
	Share     *shareDTO  `json:"share,omitempty"`
}

type revertDTO struct {
	MessageID string `json:"message_id"`
	PartID    string `json:"part_id,omitempty"`
	Snapshot  string `json:"snapshot,omitempty"`
	Diff      string `json:"diff,omitempty"`
}

type shareDTO struct {
	URL string `json:"url"`
}

// messageDTO is the JSON representation of a Message with a type discriminator.
type messageDTO struct {
	Type       string     `json:"type"`
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Parts      []partDTO  `json:"parts"`
	ProviderID string     `json:"provider_id,omitempty"`
	ModelID    string     `json:"model_id,omitempty"`
	Created    time.Time  `json:"created"`

	// user
	Agent  string     `json:"agent,omitempty"`
	Format *formatDTO `json:"format,omitempty"`

	// assistant
	ParentID      string           `json:"parent_id,omitempty"`
	Cost          *float64         `json:"cost,omitempty"`
	Tokens        *tokensDTO       `json:"tokens,omitempty"`
	Structured    *json.RawMessage `json:"structured,omitempty"`
	Error         *errorDTO        `json:"error,omitempty"`
	StopReason    *string          `json:"stop_reason,omitempty"`
	RawStopReason *string          `json:"raw_stop_reason,omitempty"`
	Completed     *time.Time       `json:"completed,omitempty"`
}

type formatDTO struct {
	Type       string          `json:"type"`
	Schema     json.RawMessage `json:"schema,omitempty"`
	RetryCount int             `json:"retry_count,omitempty"`
}

type tokensDTO struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	Reasoning  int `json:"reasoning,omitempty"`
	CacheRead  int `json:"cache_read,omitempty"`
	CacheWrite int `json:"cache_write,omitempty"`
}

type errorDTO struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Retries    int    `json:"retries,omitempty"`
}

// partDTO is the JSON representation of a Part with a type discriminator.
type partDTO struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Start int    `json:"start,omitempty"`
	End   int    `json:"end,omitempty"`

	// text
	Text      *string `json:"text,omitempty"`
	Synthetic bool    `json:"synthetic,omitempty"`
	Ignored   bool    `json:"ignored,omitempty"`

	// file
	URL      *string    `json:"url,omitempty"`
	Mime     *string    `json:"mime,omitempty"`
	Filename *string    `json:"filename,omitempty"`
	Source   *sourceDTO `json:"source,omitempty"`

	// image
	Data *string `json:"data,omitempty"`

	// agent
	Name *string `json:"name,omitempty"`
}

type sourceDTO struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
	Start int    `json:"start,omitempty"`
	End   int    `json:"end,omitempty"`
	Path  string `json:"path,omitempty"`
	Range *struct {
		Start int `json:"start"`
		End   int `json:"end"`
	} `json:"range,omitempty"`
}

func marshalSession(s loom.Session) sessionDTO {
	dto := sessionDTO{
		ID:        s.ID,
		ParentID:  s.ParentID,
		Directory: s.Directory,
		Title:     s.Title,
		Created:   s.Time.Created,
		Updated:   s.Time.Updated,
	}
	if !s.Time.Archived.IsZero() {
		at := s.Time.Archived
		dto.Archived = &at
	}
	if s.Revert != nil {
		dto.Revert = &revertDTO{
			MessageID: s.Revert.MessageID,
			PartID:    s.Revert.PartID,
			Snapshot:  s.Revert.Snapshot,
			Diff:      s.Revert.Diff,
		}
	}
	if s.Share != nil {
		dto.Share = &shareDTO{URL: s.Share.URL}
	}
	return dto
}

func unmarshalSession(dto sessionDTO) loom.Session {
	s := loom.Session{
		ID:        dto.ID,
		ParentID:  dto.ParentID,
		Directory: dto.Directory,
		Title:     dto.Title,
		Time:      loom.SessionTime{Created: dto.Created, Updated: dto.Updated},
	}
	if dto.Archived != nil {
		s.Time.Archived = *dto.Archived
	}
	if dto.Revert != nil {
		s.Revert = &loom.Revert{
			MessageID: dto.Revert.MessageID,
			PartID:    dto.Revert.PartID,
			Snapshot:  dto.Revert.Snapshot,
			Diff:      dto.Revert.Diff,
		}
	}
	if dto.Share != nil {
		s.Share = &loom.Share{URL: dto.Share.URL}
	}
	return s
}

func marshalMessage(msg loom.Message) (messageDTO, error) {
	switch m := msg.(type) {
	case loom.UserMessage:
		parts, err := marshalParts(m.Parts)
		if err != nil {
			return messageDTO{}, err
		}
		dto := messageDTO{
			Type:       "user",
			ID:         m.ID,
			SessionID:  m.SessionID,
			Parts:      parts,
			ProviderID: m.ProviderID,
			ModelID:    m.ModelID,
			Agent:      m.Agent,
			Created:    m.Created,
		}
		f, err := marshalFormat(m.Format)
		if err != nil {
			return messageDTO{}, err
		}
		dto.Format = f
		return dto, nil
	case loom.AssistantMessage:
		parts, err := marshalParts(m.Parts)
		if err != nil {
			return messageDTO{}, err
		}
		cost := m.Cost
		tokens := tokensDTO{
			Input:      m.Tokens.Input,
			Output:     m.Tokens.Output,
			Reasoning:  m.Tokens.Reasoning,
			CacheRead:  m.Tokens.Cache.Read,
			CacheWrite: m.Tokens.Cache.Write,
		}
		sr := string(m.StopReason)
		dto := messageDTO{
			Type:          "assistant",
			ID:            m.ID,
			SessionID:     m.SessionID,
			ParentID:      m.ParentID,
			Parts:         parts,
			ProviderID:    m.ProviderID,
			ModelID:       m.ModelID,
			Cost:          &cost,
			Tokens:        &tokens,
			StopReason:    &sr,
			RawStopReason: &m.RawStopReason,
			Created:       m.Created,
		}
		if m.Structured != nil {
			st := m.Structured
			dto.Structured = &st
		}
		if m.Error != nil {
			dto.Error = &errorDTO{
				Kind:       string(m.Error.Kind),
				Message:    m.Error.Message,
				RetryAfter: m.Error.RetryAfter,
				Retries:    m.Error.Retries,
			}
		}
		if !m.Completed.IsZero() {
			ct := m.Completed
			dto.Completed = &ct
		}
		return dto, nil
	default:
		return messageDTO{}, fmt.Errorf("unknown message type: %T", msg)
	}
}

func unmarshalMessage(dto messageDTO) (loom.Message, error) {
	parts, err := unmarshalParts(dto.Parts)
	if err != nil {
		return nil, err
	}
	switch dto.Type {
	case "user":
		f, err := unmarshalFormat(dto.Format)
		if err != nil {
			return nil, err
		}
		return loom.UserMessage{
			ID:         dto.ID,
			SessionID:  dto.SessionID,
			Parts:      parts,
			ProviderID: dto.ProviderID,
			ModelID:    dto.ModelID,
			Agent:      dto.Agent,
			Format:     f,
			Created:    dto.Created,
		}, nil
	case "assistant":
		m := loom.AssistantMessage{
			ID:         dto.ID,
			SessionID:  dto.SessionID,
			ParentID:   dto.ParentID,
			Parts:      parts,
			ProviderID: dto.ProviderID,
			ModelID:    dto.ModelID,
			Created:    dto.Created,
		}
		if dto.Cost != nil {
			m.Cost = *dto.Cost
		}
		if dto.Tokens != nil {
			m.Tokens = loom.Tokens{
				Input:     dto.Tokens.Input,
				Output:    dto.Tokens.Output,
				Reasoning: dto.Tokens.Reasoning,
				Cache:     loom.CacheTokens{Read: dto.Tokens.CacheRead, Write: dto.Tokens.CacheWrite},
			}
		}
		if dto.Structured != nil {
			m.Structured = *dto.Structured
		}
		if dto.Error != nil {
			m.Error = &loom.MessageError{
				Kind:       loom.ErrorKind(dto.Error.Kind),
				Message:    dto.Error.Message,
				RetryAfter: dto.Error.RetryAfter,
				Retries:    dto.Error.Retries,
			}
		}
		if dto.StopReason != nil {
			m.StopReason = loom.StopReason(*dto.StopReason)
		}
		if dto.RawStopReason != nil {
			m.RawStopReason = *dto.RawStopReason
		}
		if dto.Completed != nil {
			m.Completed = *dto.Completed
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", dto.Type)
	}
}

func marshalFormat(f loom.Format) (*formatDTO, error) {
	switch v := f.(type) {
	case nil:
		return nil, nil
	case loom.TextFormat:
		return &formatDTO{Type: "text"}, nil
	case loom.JSONSchemaFormat:
		return &formatDTO{Type: "json_schema", Schema: v.Schema, RetryCount: v.RetryCount}, nil
	default:
		return nil, fmt.Errorf("unknown format type: %T", f)
	}
}

func unmarshalFormat(dto *formatDTO) (loom.Format, error) {
	if dto == nil {
		return nil, nil
	}
	switch dto.Type {
	case "text":
		return loom.TextFormat{}, nil
	case "json_schema":
		return loom.JSONSchemaFormat{Schema: dto.Schema, RetryCount: dto.RetryCount}, nil
	default:
		return nil, fmt.Errorf("unknown format type: %q", dto.Type)
	}
}

func marshalParts(parts []loom.Part) ([]partDTO, error) {
	result := make([]partDTO, len(parts))
	for i, p := range parts {
		dto, err := marshalPart(p)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		result[i] = dto
	}
	return result, nil
}

func marshalPart(p loom.Part) (partDTO, error) {
	switch v := p.(type) {
	case loom.TextPart:
		return partDTO{
			Type:      "text",
			ID:        v.ID,
			Text:      &v.Text,
			Synthetic: v.Synthetic,
			Ignored:   v.Ignored,
			Start:     v.Start,
			End:       v.End,
		}, nil
	case loom.FilePart:
		dto := partDTO{
			Type:     "file",
			ID:       v.ID,
			URL:      &v.URL,
			Mime:     &v.Mime,
			Filename: &v.Filename,
			Start:    v.Start,
			End:      v.End,
		}
		src, err := marshalSource(v.Source)
		if err != nil {
			return partDTO{}, err
		}
		dto.Source = src
		return dto, nil
	case loom.ImagePart:
		return partDTO{Type: "image", ID: v.ID, Data: &v.Data, Mime: &v.Mime}, nil
	case loom.AgentPart:
		return partDTO{Type: "agent", ID: v.ID, Name: &v.Name, Start: v.Start, End: v.End}, nil
	default:
		return partDTO{}, fmt.Errorf("unknown part type: %T", p)
	}
}

func unmarshalParts(dtos []partDTO) ([]loom.Part, error) {
	result := make([]loom.Part, len(dtos))
	for i, dto := range dtos {
		p, err := unmarshalPart(dto)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		result[i] = p
	}
	return result, nil
}

func unmarshalPart(dto partDTO) (loom.Part, error) {
	switch dto.Type {
	case "text":
		p := loom.TextPart{ID: dto.ID, Synthetic: dto.Synthetic, Ignored: dto.Ignored, Start: dto.Start, End: dto.End}
		if dto.Text != nil {
			p.Text = *dto.Text
		}
		return p, nil
	case "file":
		p := loom.FilePart{ID: dto.ID, Start: dto.Start, End: dto.End}
		if dto.URL != nil {
			p.URL = *dto.URL
		}
		if dto.Mime != nil {
			p.Mime = *dto.Mime
		}
		if dto.Filename != nil {
			p.Filename = *dto.Filename
		}
		src, err := unmarshalSource(dto.Source)
		if err != nil {
			return nil, err
		}
		p.Source = src
		return p, nil
	case "image":
		p := loom.ImagePart{ID: dto.ID}
		if dto.Data != nil {
			p.Data = *dto.Data
		}
		if dto.Mime != nil {
			p.Mime = *dto.Mime
		}
		return p, nil
	case "agent":
		p := loom.AgentPart{ID: dto.ID, Start: dto.Start, End: dto.End}
		if dto.Name != nil {
			p.Name = *dto.Name
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown part type: %q", dto.Type)
	}
}

func marshalSource(src loom.FileSource) (*sourceDTO, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case loom.TextSource:
		return &sourceDTO{Type: "text", Value: v.Value, Start: v.Start, End: v.End}, nil
	case loom.PathSource:
		dto := &sourceDTO{Type: "path", Path: v.Path}
		if v.Range != nil {
			dto.Range = &struct {
				Start int `json:"start"`
				End   int `json:"end"`
			}{Start: v.Range.Start, End: v.Range.End}
		}
		return dto, nil
	default:
		return nil, fmt.Errorf("unknown file source type: %T", src)
	}
}

func unmarshalSource(dto *sourceDTO) (loom.FileSource, error) {
	if dto == nil {
		return nil, nil
	}
	switch dto.Type {
	case "text":
		return loom.TextSource{Value: dto.Value, Start: dto.Start, End: dto.End}, nil
	case "path":
		src := loom.PathSource{Path: dto.Path}
		if dto.Range != nil {
			src.Range = &loom.LineRange{Start: dto.Range.Start, End: dto.Range.End}
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown file source type: %q", dto.Type)
	}
}
