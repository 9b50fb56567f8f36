package protocol

import (
	"encoding/json"
	"fmt"
)

// ModifyDocumentEvent is the single outbound event name all document CRUD is
// funneled through.
const ModifyDocumentEvent = "modifyDocument"

// DocumentType names an upstream document collection.
type DocumentType string

const (
	DocActor        DocumentType = "Actor"
	DocItem         DocumentType = "Item"
	DocUser         DocumentType = "User"
	DocChatMessage  DocumentType = "ChatMessage"
	DocActiveEffect DocumentType = "ActiveEffect"
	DocSetting      DocumentType = "Setting"
	DocScene        DocumentType = "Scene"
	DocMacro        DocumentType = "Macro"
)

// Action is the CRUD verb of a document request.
type Action string

const (
	ActionGet    Action = "get"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Operation is the operation body of a modifyDocument request. The upstream
// encodes embedded-document parentage as the single ParentUUID string, not a
// structured parent object.
type Operation struct {
	Action     Action           `json:"action"`
	Query      map[string]any   `json:"query,omitempty"`
	Data       []map[string]any `json:"data,omitempty"`
	Updates    []map[string]any `json:"updates,omitempty"`
	IDs        []string         `json:"ids,omitempty"`
	ParentUUID string           `json:"parentUuid,omitempty"`
	Broadcast  bool             `json:"broadcast,omitempty"`
}

// DocumentRequest is the wire payload of a modifyDocument event.
type DocumentRequest struct {
	Type      DocumentType `json:"type"`
	Action    Action       `json:"action"`
	Operation Operation    `json:"operation"`
}

// DocumentResponse is the acknowledgment envelope of a modifyDocument call.
type DocumentResponse struct {
	Type   DocumentType      `json:"type"`
	Action Action            `json:"action"`
	Result []json.RawMessage `json:"result"`
	Error  string            `json:"error,omitempty"`
}

// ParentRef identifies the parent of an embedded document.
type ParentRef struct {
	Type DocumentType
	ID   string
}

// UUID renders the composite parent-path string the wire format requires,
// e.g. "Actor.abc123".
func (r ParentRef) UUID() string {
	return fmt.Sprintf("%s.%s", r.Type, r.ID)
}

// ResponseError extracts the server-supplied error from a raw acknowledgment,
// tolerating both the structured envelope and a bare {"error": "..."} object.
func ResponseError(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var env struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	return env.Error
}
