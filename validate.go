package loom

import (
	"encoding/json"
	"fmt"
)

// ValidatePart checks structural constraints on a part before it is attached
// to a message.
func ValidatePart(p Part) error {
	switch v := p.(type) {
	case TextPart:
		return validateOffsets(v.Start, v.End)
	case FilePart:
		if v.URL == "" && v.Source == nil {
			return fmt.Errorf("file part needs a URL or a source: %w", ErrValidation)
		}
		return validateOffsets(v.Start, v.End)
	case ImagePart:
		if v.Mime == "" {
			return fmt.Errorf("image part needs a mime type: %w", ErrValidation)
		}
		return nil
	case AgentPart:
		if v.Name == "" {
			return fmt.Errorf("agent part needs a name: %w", ErrValidation)
		}
		return validateOffsets(v.Start, v.End)
	default:
		return fmt.Errorf("unknown part type %T: %w", p, ErrValidation)
	}
}

// ValidateFormat checks that a format declaration is usable. A nil format is
// valid and means plain text.
func ValidateFormat(f Format) error {
	switch v := f.(type) {
	case nil, TextFormat:
		return nil
	case JSONSchemaFormat:
		if len(v.Schema) == 0 {
			return fmt.Errorf("json_schema format needs a schema: %w", ErrValidation)
		}
		if !json.Valid(v.Schema) {
			return fmt.Errorf("json_schema format schema is not valid JSON: %w", ErrValidation)
		}
		return nil
	default:
		return fmt.Errorf("unknown format type %T: %w", f, ErrValidation)
	}
}

func validateOffsets(start, end int) error {
	if start < 0 || end < start {
		return fmt.Errorf("offsets must satisfy 0 <= start <= end, got [%d, %d]: %w", start, end, ErrValidation)
	}
	return nil
}
