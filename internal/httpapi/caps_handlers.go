package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"capdist.org/internal/audit"
	"capdist.org/internal/caps"
	"capdist.org/internal/captypes"
	"capdist.org/internal/obs"
)

type createPolicyRequest struct {
	Effect       string   `json:"effect"`
	Roles        []string `json:"roles"`
	AllRoles     bool     `json:"all_roles"`
	Priority     *int     `json:"priority"`
	Primitives   []string `json:"primitives"`
	ContentTypes []string `json:"content_types"`
	Taxonomies   []string `json:"taxonomies"`
	Exceptions   []string `json:"exceptions"`
	Only         []string `json:"only"`
}

type updatePolicyRequest struct {
	Priority *int `json:"priority"`
}

type policyView struct {
	ID           string   `json:"id"`
	Effect       string   `json:"effect"`
	Roles        []string `json:"roles,omitempty"`
	AllRoles     bool     `json:"all_roles"`
	Priority     int      `json:"priority"`
	Primitives   []string `json:"primitives,omitempty"`
	ContentTypes []string `json:"content_types,omitempty"`
	Taxonomies   []string `json:"taxonomies,omitempty"`
	Exceptions   []string `json:"exceptions,omitempty"`
	Only         []string `json:"only,omitempty"`
}

type evaluateRequest struct {
	User string   `json:"user"`
	Caps []string `json:"caps"`
}

type evaluateResponse struct {
	User    string          `json:"user"`
	Caps    map[string]bool `json:"caps"`
	Granted []string        `json:"granted"`
}

type createTypeRequest struct {
	Name     string            `json:"name"`
	Kind     string            `json:"kind"`
	Caps     map[string]string `json:"caps"`
	MetaCaps []string          `json:"meta_caps"`
}

type typeView struct {
	Name     string            `json:"name"`
	Kind     string            `json:"kind"`
	Caps     map[string]string `json:"caps"`
	MetaCaps []string          `json:"meta_caps,omitempty"`
}

func (a *API) handlePolicies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listPolicies(w, r)
	case http.MethodPost:
		a.createPolicy(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listPolicies(w http.ResponseWriter, r *http.Request) {
	policies := a.engine.Policies()
	views := make([]policyView, 0, len(policies))
	for _, p := range policies {
		views = append(views, viewOf(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"policies": views,
		"count":    len(views),
	})
}

func (a *API) createPolicy(w http.ResponseWriter, r *http.Request) {
	if !a.ensureAdmin(w, r) {
		return
	}
	var req createPolicyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	grant, err := parseEffect(req.Effect)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var p *caps.Policy
	switch {
	case req.AllRoles && grant:
		p = a.engine.GrantToAll()
	case req.AllRoles:
		p = a.engine.DenyToAll()
	case grant:
		p, err = a.engine.GrantTo(req.Roles...)
	default:
		p, err = a.engine.DenyTo(req.Roles...)
	}
	if err != nil {
		handleCapsError(w, r, err)
		return
	}

	if len(req.Primitives) > 0 {
		p.Primitives(req.Primitives...)
	}
	if len(req.ContentTypes) > 0 {
		p.CapsForType(req.ContentTypes...)
	}
	if len(req.Taxonomies) > 0 {
		p.CapsForTaxonomy(req.Taxonomies...)
	}
	if len(req.Exceptions) > 0 {
		p.Except(req.Exceptions...)
	}
	if len(req.Only) > 0 {
		p.Only(req.Only...)
	}
	if req.Priority != nil {
		p.AtPriority(*req.Priority)
	}

	obs.PolicyCount(len(a.engine.Policies()))
	_ = audit.LogEvent(r.Context(), "caps.policy.create", map[string]any{
		"policy_id": p.ID(),
		"effect":    req.Effect,
		"priority":  p.Priority(),
	})

	w.Header().Set("Location", fmt.Sprintf("/v1/policies/%s", p.ID()))
	writeJSON(w, http.StatusCreated, viewOf(p))
}

func (a *API) handlePolicyResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/policies/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	p, ok := a.engine.Policy(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "policy not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, viewOf(p))
	case http.MethodPatch:
		if !a.ensureAdmin(w, r) {
			return
		}
		var req updatePolicyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.Priority == nil {
			writeError(w, r, http.StatusBadRequest, "priority is required")
			return
		}
		p.AtPriority(*req.Priority)
		_ = audit.LogEvent(r.Context(), "caps.policy.reprioritize", map[string]any{
			"policy_id": p.ID(),
			"priority":  *req.Priority,
		})
		writeJSON(w, http.StatusOK, viewOf(p))
	case http.MethodDelete:
		if !a.ensureAdmin(w, r) {
			return
		}
		a.engine.Deregister(p)
		obs.PolicyCount(len(a.engine.Policies()))
		_ = audit.LogEvent(r.Context(), "caps.policy.delete", map[string]any{
			"policy_id": p.ID(),
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req evaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.User) == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}

	start := time.Now()
	result, err := a.engine.UserCaps(r.Context(), req.User)
	if err != nil {
		obs.ObserveEvaluation("error", time.Since(start))
		handleCapsError(w, r, err)
		return
	}
	obs.ObserveEvaluation("ok", time.Since(start))

	if len(req.Caps) > 0 {
		filtered := make(map[string]bool, len(req.Caps))
		for _, c := range req.Caps {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			filtered[c] = result[c]
		}
		result = filtered
	}

	granted := make([]string, 0, len(result))
	for c, ok := range result {
		if ok {
			granted = append(granted, c)
		}
	}
	sort.Strings(granted)

	_ = audit.LogEvent(r.Context(), "caps.evaluate", map[string]any{
		"user":    req.User,
		"granted": len(granted),
	})

	writeJSON(w, http.StatusOK, evaluateResponse{
		User:    req.User,
		Caps:    result,
		Granted: granted,
	})
}

func (a *API) handleTypes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		all := a.types.All()
		views := make([]typeView, 0, len(all))
		for _, t := range all {
			views = append(views, typeView{
				Name:     t.Name,
				Kind:     string(t.Kind),
				Caps:     t.Caps,
				MetaCaps: t.MetaCaps,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"types": views,
			"count": len(views),
		})
	case http.MethodPost:
		if !a.ensureAdmin(w, r) {
			return
		}
		var req createTypeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		t := &captypes.Type{
			Name:     req.Name,
			Kind:     captypes.Kind(req.Kind),
			Caps:     req.Caps,
			MetaCaps: req.MetaCaps,
		}
		if err := a.types.Register(t); err != nil {
			handleTypeError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "caps.type.register", map[string]any{
			"name": t.Name,
			"kind": string(t.Kind),
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/types/%s/%s", t.Kind, t.Name))
		writeJSON(w, http.StatusCreated, typeView{
			Name:     t.Name,
			Kind:     string(t.Kind),
			Caps:     t.Caps,
			MetaCaps: t.MetaCaps,
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTypeResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/types/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	kind, name := captypes.Kind(parts[0]), parts[1]

	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensureAdmin(w, r) {
		return
	}
	if !a.types.Unregister(kind, name) {
		writeError(w, r, http.StatusNotFound, "type not found")
		return
	}
	_ = audit.LogEvent(r.Context(), "caps.type.unregister", map[string]any{
		"name": name,
		"kind": string(kind),
	})
	w.WriteHeader(http.StatusNoContent)
}

func viewOf(p *caps.Policy) policyView {
	effect := "deny"
	if p.Grants() {
		effect = "grant"
	}
	return policyView{
		ID:           p.ID(),
		Effect:       effect,
		Roles:        p.Roles(),
		AllRoles:     p.AllRoles(),
		Priority:     p.Priority(),
		Primitives:   p.PrimitiveCaps(),
		ContentTypes: p.ContentTypes(),
		Taxonomies:   p.Taxonomies(),
		Exceptions:   p.Exceptions(),
		Only:         p.OnlySlots(),
	}
}

func parseEffect(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "grant":
		return true, nil
	case "deny":
		return false, nil
	default:
		return false, errors.New(`effect must be "grant" or "deny"`)
	}
}

func handleCapsError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, caps.ErrNoTarget), errors.Is(err, caps.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, caps.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handleTypeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, captypes.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, captypes.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
