package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/nextlevelbuilder/foundrybridge/internal/state"
	"github.com/nextlevelbuilder/foundrybridge/internal/worldcache"
	"github.com/nextlevelbuilder/foundrybridge/pkg/protocol"
)

const defaultChatLimit = 100

// User is the simplified user row most callers want.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        int    `json:"role"`
	Active      bool   `json:"active"`
	Color       string `json:"color,omitempty"`
	CharacterID string `json:"characterId,omitempty"`
}

// SystemInfo describes the game system the active world runs.
type SystemInfo struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Version string `json:"version,omitempty"`
}

// ActorSummary is the list row for GetActors.
type ActorSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// SceneSummary is the list row for GetScenes.
type SceneSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// MacroSummary is the list row for GetMacros.
type MacroSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ChatMessage is one chat log entry, enriched with cached display names.
type ChatMessage struct {
	ID           string `json:"id"`
	UserID       string `json:"userId,omitempty"`
	UserName     string `json:"userName,omitempty"`
	SpeakerActor string `json:"speakerActor,omitempty"`
	SpeakerAlias string `json:"speakerAlias,omitempty"`
	Content      string `json:"content"`
	Flavor       string `json:"flavor,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// GetUsers fetches the authoritative user list. failHard=false makes
// failures harmless to the failure budget, for callers that expect guests
// to be refused. The result also feeds the session validator.
func (c *Client) GetUsers(ctx context.Context, failHard bool) ([]User, error) {
	resp, err := c.dispatch(ctx, protocol.DocUser, protocol.ActionGet, protocol.Operation{}, nil, failHard)
	if err != nil {
		return nil, err
	}

	users := make([]User, 0, len(resp.Result))
	for _, raw := range resp.Result {
		var p protocol.UserPayload
		if json.Unmarshal(raw, &p) != nil || p.ID == "" {
			continue
		}
		users = append(users, User{
			ID:          p.ID,
			Name:        p.Name,
			Role:        p.Role,
			Active:      p.Active,
			Color:       p.Color,
			CharacterID: p.CharacterID,
		})
		c.names.Record(p.ID, p.Name)
	}

	// Reconcile the event-fed shadow cache with server truth.
	c.mu.Lock()
	for _, u := range users {
		c.machine.Users[u.ID] = state.UserRecord{
			ID: u.ID, Name: u.Name, Role: u.Role, Active: u.Active,
			Color: u.Color, CharacterID: u.CharacterID,
		}
	}
	c.mu.Unlock()

	c.validate(users)
	return users, nil
}

// GetUsersDetails returns the raw user documents, unshaped.
func (c *Client) GetUsersDetails(ctx context.Context) ([]map[string]any, error) {
	resp, err := c.dispatch(ctx, protocol.DocUser, protocol.ActionGet, protocol.Operation{}, nil, true)
	if err != nil {
		return nil, err
	}
	return decodeDocs(resp.Result), nil
}

// GetCurrentUserID returns the id the session is tracking.
func (c *Client) GetCurrentUserID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.Session.CurrentUserID == "" {
		return "", newError(protocol.ErrCodeUserUnavailable, "no user id tracked for this session")
	}
	return c.machine.Session.CurrentUserID, nil
}

// GetSystem reports the active world's game system. Serves the confirmed
// world cache when possible; otherwise reads the core.system setting and,
// failing that, falls back to scraped page metadata. Also gives the session
// validator an opportunistic run.
func (c *Client) GetSystem(ctx context.Context) (SystemInfo, error) {
	c.maybeValidate(ctx)

	if e, ok := c.worlds.Get(c.baseURL); ok && e.SystemID != "" {
		return SystemInfo{ID: e.SystemID, Title: e.Title, Version: e.Version}, nil
	}

	raw, err := c.fetchSystemSetting(ctx)
	if err == nil {
		info := SystemInfo{}
		if id, ok := raw["id"].(string); ok {
			info.ID = id
		}
		if title, ok := raw["title"].(string); ok {
			info.Title = title
		}
		if version, ok := raw["version"].(string); ok {
			info.Version = version
		}
		if info.ID != "" {
			c.worlds.Put(c.baseURL, worldcache.Entry{
				SystemID: info.ID, Title: info.Title, Version: info.Version,
			})
			return info, nil
		}
	}

	// Scraped join/game page metadata is the last resort; it carries no
	// system id, only a display title.
	if e, ok := c.worlds.Peek(c.baseURL); ok && e.WorldTitle != "" {
		return SystemInfo{Title: e.WorldTitle}, nil
	}
	if err != nil {
		return SystemInfo{}, err
	}
	return SystemInfo{}, newError(protocol.ErrCodeServer, "server reported no system information")
}

// fetchSystemSetting reads the core.system setting. The value arrives as
// either an object or a JSON-encoded string depending on server version.
func (c *Client) fetchSystemSetting(ctx context.Context) (map[string]any, error) {
	resp, err := c.dispatch(ctx, protocol.DocSetting, protocol.ActionGet, protocol.Operation{
		Query: map[string]any{"key": "core.system"},
	}, nil, false)
	if err != nil {
		return nil, err
	}
	if len(resp.Result) == 0 {
		return nil, newError(protocol.ErrCodeServer, "core.system setting missing")
	}

	var doc struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(resp.Result[0], &doc); err != nil || len(doc.Value) == 0 {
		return nil, newError(protocol.ErrCodeServer, "malformed core.system setting")
	}

	out := map[string]any{}
	if json.Unmarshal(doc.Value, &out) == nil && len(out) > 0 {
		return out, nil
	}
	var encoded string
	if json.Unmarshal(doc.Value, &encoded) == nil {
		if json.Unmarshal([]byte(encoded), &out) == nil && len(out) > 0 {
			return out, nil
		}
	}
	return nil, newError(protocol.ErrCodeServer, "malformed core.system setting")
}

// GetSystemData returns the raw system payload, shaped by the resolved
// adapter.
func (c *Client) GetSystemData(ctx context.Context) (map[string]any, error) {
	raw, err := c.fetchSystemSetting(ctx)
	if err != nil {
		return nil, err
	}
	systemID, _ := raw["id"].(string)
	return c.adapterFor(systemID).GetSystemData(raw), nil
}

// adapterFor resolves the adapter, honoring a configured override.
func (c *Client) adapterFor(systemID string) Adapter {
	if c.systemID != "" {
		systemID = c.systemID
	}
	if systemID == "" {
		if e, ok := c.worlds.Peek(c.baseURL); ok {
			systemID = e.SystemID
		}
	}
	return ResolveAdapter(systemID)
}

// GetActors lists the world's actors.
func (c *Client) GetActors(ctx context.Context) ([]ActorSummary, error) {
	resp, err := c.dispatch(ctx, protocol.DocActor, protocol.ActionGet, protocol.Operation{}, nil, true)
	if err != nil {
		return nil, err
	}

	actors := make([]ActorSummary, 0, len(resp.Result))
	for _, raw := range resp.Result {
		var a struct {
			ID   string `json:"_id"`
			Name string `json:"name"`
			Type string `json:"type"`
		}
		if json.Unmarshal(raw, &a) != nil || a.ID == "" {
			continue
		}
		actors = append(actors, ActorSummary{ID: a.ID, Name: a.Name, Type: a.Type})
		c.names.Record(a.ID, a.Name)
	}
	sort.Slice(actors, func(i, j int) bool { return actors[i].Name < actors[j].Name })
	return actors, nil
}

// GetActor fetches one actor, shaped by the game-system adapter.
// forceSystemID overrides adapter resolution for this call only.
func (c *Client) GetActor(ctx context.Context, id, forceSystemID string) (map[string]any, error) {
	resp, err := c.dispatch(ctx, protocol.DocActor, protocol.ActionGet, protocol.Operation{
		Query: map[string]any{"_id": id},
	}, nil, true)
	if err != nil {
		return nil, err
	}
	if len(resp.Result) == 0 {
		return nil, newError(protocol.ErrCodeServer, "actor %q not found", id)
	}

	raw := map[string]any{}
	if err := json.Unmarshal(resp.Result[0], &raw); err != nil {
		return nil, fmt.Errorf("decode actor: %w", err)
	}
	if name, ok := raw["name"].(string); ok {
		c.names.Record(id, name)
	}

	if forceSystemID != "" {
		return ResolveAdapter(forceSystemID).GetActor(raw), nil
	}
	return c.adapterFor("").GetActor(raw), nil
}

// CreateActor creates one actor and returns the created document.
func (c *Client) CreateActor(ctx context.Context, data map[string]any) (map[string]any, error) {
	resp, err := c.dispatch(ctx, protocol.DocActor, protocol.ActionCreate, protocol.Operation{
		Data: []map[string]any{data},
	}, nil, true)
	if err != nil {
		return nil, err
	}
	return firstDoc(resp.Result)
}

// UpdateActor applies a patch to one actor.
func (c *Client) UpdateActor(ctx context.Context, id string, patch map[string]any) error {
	_, err := c.dispatch(ctx, protocol.DocActor, protocol.ActionUpdate, protocol.Operation{
		Updates: []map[string]any{withID(id, patch)},
	}, nil, true)
	return err
}

// DeleteActor deletes one actor.
func (c *Client) DeleteActor(ctx context.Context, id string) error {
	_, err := c.dispatch(ctx, protocol.DocActor, protocol.ActionDelete, protocol.Operation{
		IDs: []string{id},
	}, nil, true)
	return err
}

// CreateActorItem creates an item embedded in an actor.
func (c *Client) CreateActorItem(ctx context.Context, actorID string, data map[string]any) (map[string]any, error) {
	parent := &protocol.ParentRef{Type: protocol.DocActor, ID: actorID}
	resp, err := c.dispatch(ctx, protocol.DocItem, protocol.ActionCreate, protocol.Operation{
		Data: []map[string]any{data},
	}, parent, true)
	if err != nil {
		return nil, err
	}
	return firstDoc(resp.Result)
}

// UpdateActorItem patches an item embedded in an actor.
func (c *Client) UpdateActorItem(ctx context.Context, actorID, itemID string, patch map[string]any) error {
	parent := &protocol.ParentRef{Type: protocol.DocActor, ID: actorID}
	_, err := c.dispatch(ctx, protocol.DocItem, protocol.ActionUpdate, protocol.Operation{
		Updates: []map[string]any{withID(itemID, patch)},
	}, parent, true)
	return err
}

// DeleteActorItem removes an item embedded in an actor.
func (c *Client) DeleteActorItem(ctx context.Context, actorID, itemID string) error {
	parent := &protocol.ParentRef{Type: protocol.DocActor, ID: actorID}
	_, err := c.dispatch(ctx, protocol.DocItem, protocol.ActionDelete, protocol.Operation{
		IDs: []string{itemID},
	}, parent, true)
	return err
}

// UpdateActorEffect patches an active effect embedded in an actor.
func (c *Client) UpdateActorEffect(ctx context.Context, actorID, effectID string, patch map[string]any) error {
	parent := &protocol.ParentRef{Type: protocol.DocActor, ID: actorID}
	_, err := c.dispatch(ctx, protocol.DocActiveEffect, protocol.ActionUpdate, protocol.Operation{
		Updates: []map[string]any{withID(effectID, patch)},
	}, parent, true)
	return err
}

// DeleteActorEffect removes an active effect embedded in an actor.
func (c *Client) DeleteActorEffect(ctx context.Context, actorID, effectID string) error {
	parent := &protocol.ParentRef{Type: protocol.DocActor, ID: actorID}
	_, err := c.dispatch(ctx, protocol.DocActiveEffect, protocol.ActionDelete, protocol.Operation{
		IDs: []string{effectID},
	}, parent, true)
	return err
}

// ToggleStatusEffect flips an effect's disabled state. A nil active reads
// the current state first and inverts it; otherwise the effect is set to
// the requested state.
func (c *Client) ToggleStatusEffect(ctx context.Context, actorID, effectID string, active *bool) error {
	var enable bool
	if active != nil {
		enable = *active
	} else {
		parent := &protocol.ParentRef{Type: protocol.DocActor, ID: actorID}
		resp, err := c.dispatch(ctx, protocol.DocActiveEffect, protocol.ActionGet, protocol.Operation{
			Query: map[string]any{"_id": effectID},
		}, parent, true)
		if err != nil {
			return err
		}
		if len(resp.Result) == 0 {
			return newError(protocol.ErrCodeServer, "effect %q not found on actor %q", effectID, actorID)
		}
		var e struct {
			Disabled bool `json:"disabled"`
		}
		if err := json.Unmarshal(resp.Result[0], &e); err != nil {
			return fmt.Errorf("decode effect: %w", err)
		}
		enable = e.Disabled
	}
	return c.UpdateActorEffect(ctx, actorID, effectID, map[string]any{"disabled": !enable})
}

// GetChatLog returns the most recent chat messages, newest last, with
// display names resolved through the name cache. limit<=0 means 100.
func (c *Client) GetChatLog(ctx context.Context, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = defaultChatLimit
	}
	resp, err := c.dispatch(ctx, protocol.DocChatMessage, protocol.ActionGet, protocol.Operation{}, nil, true)
	if err != nil {
		return nil, err
	}

	msgs := make([]ChatMessage, 0, len(resp.Result))
	for _, raw := range resp.Result {
		var m struct {
			ID        string `json:"_id"`
			User      string `json:"user"`
			Content   string `json:"content"`
			Flavor    string `json:"flavor"`
			Timestamp int64  `json:"timestamp"`
			Speaker   struct {
				Actor string `json:"actor"`
				Alias string `json:"alias"`
			} `json:"speaker"`
		}
		if json.Unmarshal(raw, &m) != nil || m.ID == "" {
			continue
		}
		msg := ChatMessage{
			ID:           m.ID,
			UserID:       m.User,
			SpeakerActor: m.Speaker.Actor,
			SpeakerAlias: m.Speaker.Alias,
			Content:      m.Content,
			Flavor:       m.Flavor,
			Timestamp:    m.Timestamp,
		}
		if name, ok := c.names.Lookup(m.User); ok {
			msg.UserName = name
		}
		if msg.SpeakerAlias == "" && m.Speaker.Actor != "" {
			if name, ok := c.names.Lookup(m.Speaker.Actor); ok {
				msg.SpeakerAlias = name
			}
		}
		msgs = append(msgs, msg)
	}

	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// SendMessage posts a plain chat message.
func (c *Client) SendMessage(ctx context.Context, content string) (map[string]any, error) {
	resp, err := c.dispatch(ctx, protocol.DocChatMessage, protocol.ActionCreate, protocol.Operation{
		Data: []map[string]any{{"content": content}},
	}, nil, true)
	if err != nil {
		return nil, err
	}
	return firstDoc(resp.Result)
}

// Roll posts a dice roll as a roll-typed chat message. The server evaluates
// the formula; the bridge only ships it.
func (c *Client) Roll(ctx context.Context, formula, flavor string) (map[string]any, error) {
	data := map[string]any{
		"content": formula,
		"type":    5,
		"rolls":   []map[string]any{{"formula": formula}},
	}
	if flavor != "" {
		data["flavor"] = flavor
	}
	resp, err := c.dispatch(ctx, protocol.DocChatMessage, protocol.ActionCreate, protocol.Operation{
		Data: []map[string]any{data},
	}, nil, true)
	if err != nil {
		return nil, err
	}
	return firstDoc(resp.Result)
}

// UseItem announces an item use in chat on behalf of the actor. The game
// engine's own usage mechanics (charges, targeting) are out of reach for a
// remote client; the chat card is the observable part.
func (c *Client) UseItem(ctx context.Context, actorID, itemID string) error {
	parent := &protocol.ParentRef{Type: protocol.DocActor, ID: actorID}
	resp, err := c.dispatch(ctx, protocol.DocItem, protocol.ActionGet, protocol.Operation{
		Query: map[string]any{"_id": itemID},
	}, parent, true)
	if err != nil {
		return err
	}
	if len(resp.Result) == 0 {
		return newError(protocol.ErrCodeServer, "item %q not found on actor %q", itemID, actorID)
	}
	var item struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(resp.Result[0], &item); err != nil {
		return fmt.Errorf("decode item: %w", err)
	}

	actorName, _ := c.names.Lookup(actorID)
	content := fmt.Sprintf("uses %s", item.Name)
	if actorName != "" {
		content = fmt.Sprintf("%s uses %s", actorName, item.Name)
	}
	_, err = c.dispatch(ctx, protocol.DocChatMessage, protocol.ActionCreate, protocol.Operation{
		Data: []map[string]any{{
			"content": content,
			"speaker": map[string]any{"actor": actorID},
		}},
	}, nil, true)
	return err
}

// GetScenes lists the world's scenes.
func (c *Client) GetScenes(ctx context.Context) ([]SceneSummary, error) {
	resp, err := c.dispatch(ctx, protocol.DocScene, protocol.ActionGet, protocol.Operation{}, nil, true)
	if err != nil {
		return nil, err
	}
	scenes := make([]SceneSummary, 0, len(resp.Result))
	for _, raw := range resp.Result {
		var s struct {
			ID     string `json:"_id"`
			Name   string `json:"name"`
			Active bool   `json:"active"`
		}
		if json.Unmarshal(raw, &s) != nil || s.ID == "" {
			continue
		}
		scenes = append(scenes, SceneSummary{ID: s.ID, Name: s.Name, Active: s.Active})
		c.names.Record(s.ID, s.Name)
	}
	return scenes, nil
}

// GetMacros lists the world's macros.
func (c *Client) GetMacros(ctx context.Context) ([]MacroSummary, error) {
	resp, err := c.dispatch(ctx, protocol.DocMacro, protocol.ActionGet, protocol.Operation{}, nil, true)
	if err != nil {
		return nil, err
	}
	macros := make([]MacroSummary, 0, len(resp.Result))
	for _, raw := range resp.Result {
		var m struct {
			ID   string `json:"_id"`
			Name string `json:"name"`
			Type string `json:"type"`
		}
		if json.Unmarshal(raw, &m) != nil || m.ID == "" {
			continue
		}
		macros = append(macros, MacroSummary{ID: m.ID, Name: m.Name, Type: m.Type})
		c.names.Record(m.ID, m.Name)
	}
	return macros, nil
}

func decodeDocs(raws []json.RawMessage) []map[string]any {
	docs := make([]map[string]any, 0, len(raws))
	for _, raw := range raws {
		doc := map[string]any{}
		if json.Unmarshal(raw, &doc) == nil {
			docs = append(docs, doc)
		}
	}
	return docs
}

func firstDoc(raws []json.RawMessage) (map[string]any, error) {
	if len(raws) == 0 {
		return nil, newError(protocol.ErrCodeServer, "empty result for create")
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raws[0], &doc); err != nil {
		return nil, fmt.Errorf("decode created document: %w", err)
	}
	return doc, nil
}

func withID(id string, patch map[string]any) map[string]any {
	out := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		out[k] = v
	}
	out["_id"] = id
	return out
}
