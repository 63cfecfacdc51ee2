package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/dndtoolbox/toolbox/internal/platform/errors"
	"github.com/dndtoolbox/toolbox/internal/platform/i18n"
	"github.com/dndtoolbox/toolbox/internal/platform/requestctx"
	"github.com/dndtoolbox/toolbox/internal/platform/timeouts"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/engine"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/protocol"
	"github.com/dndtoolbox/toolbox/internal/services/mapsession/storage"
)

const maxRequestBodyBytes = maxFramePayloadBytes

var errUnauthenticated = apperrors.New(apperrors.CodeUnauthenticated, "user not logged in")

type mapSummaryResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	OwnerID    string `json:"owner_id"`
	CampaignID string `json:"campaign_id"`
	IsOpen     bool   `json:"is_open"`
}

type participantResponse struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	Role         string    `json:"role"`
	CharacterID  *string   `json:"character_id"`
	JoinedAt     time.Time `json:"joined_at"`
}

type mapResponse struct {
	mapSummaryResponse
	protocol.Snapshot
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	Participants []participantResponse `json:"participants"`
}

type createMapRequest struct {
	Name       string `json:"name"`
	CampaignID string `json:"campaign_id"`
}

type visibilityRequest struct {
	IsOpen *bool `json:"is_open"`
}

func (h *handler) listMaps(w http.ResponseWriter, r *http.Request) {
	userID := requestctx.UserIDFromContext(r.Context())
	ctx, cancel := storeContext(r)
	defer cancel()

	var (
		maps []storage.MapSummary
		err  error
	)
	switch role := strings.TrimSpace(r.URL.Query().Get("role")); role {
	case "", protocol.RoleOwner:
		maps, err = h.deps.Catalog.ListOwnedMaps(ctx, userID)
	case protocol.RoleMember:
		maps, err = h.deps.Catalog.ListMemberMaps(ctx, userID)
	default:
		writeHTTPError(w, r, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "unknown role", map[string]string{"Role": role}))
		return
	}
	if err != nil {
		writeHTTPError(w, r, apperrors.Wrap(apperrors.CodePersistenceFailure, "list maps", err))
		return
	}
	out := make([]mapSummaryResponse, 0, len(maps))
	for _, summary := range maps {
		out = append(out, summaryResponse(summary))
	}
	writeJSON(w, http.StatusOK, map[string]any{"maps": out})
}

func (h *handler) createMap(w http.ResponseWriter, r *http.Request) {
	userID := requestctx.UserIDFromContext(r.Context())
	var req createMapRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeHTTPError(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.CampaignID = strings.TrimSpace(req.CampaignID)
	if req.Name == "" || req.CampaignID == "" {
		writeHTTPError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "name and campaign_id are required"))
		return
	}

	ctx, cancel := storeContext(r)
	defer cancel()
	campaign, err := h.deps.Members.GetCampaign(ctx, req.CampaignID)
	if errors.Is(err, storage.ErrNotFound) {
		writeHTTPError(w, r, apperrors.WithMetadata(apperrors.CodeNotFound, "campaign not found", map[string]string{
			apperrors.MetadataResource: "campaign",
		}))
		return
	}
	if err != nil {
		writeHTTPError(w, r, apperrors.Wrap(apperrors.CodePersistenceFailure, "load campaign", err))
		return
	}
	if campaign.DMID != userID {
		writeHTTPError(w, r, apperrors.New(apperrors.CodeForbidden, "only the campaign DM may create maps"))
		return
	}

	created := storage.MapSession{
		ID:         uuid.NewString(),
		Name:       req.Name,
		OwnerID:    userID,
		CampaignID: campaign.ID,
	}
	if err := h.deps.Catalog.CreateMap(ctx, created); err != nil {
		writeHTTPError(w, r, apperrors.Wrap(apperrors.CodePersistenceFailure, "create map", err))
		return
	}
	log.Printf("mapsession: map created user=%q map=%q campaign=%q", userID, created.ID, campaign.ID)
	writeJSON(w, http.StatusCreated, mapSummaryResponse{
		ID:         created.ID,
		Name:       created.Name,
		OwnerID:    created.OwnerID,
		CampaignID: created.CampaignID,
	})
}

func (h *handler) getMap(w http.ResponseWriter, r *http.Request) {
	userID := requestctx.UserIDFromContext(r.Context())
	mapID := strings.TrimSpace(r.PathValue("id"))

	ctx, cancel := storeContext(r)
	defer cancel()
	session, err := h.deps.Sessions.GetMapSession(ctx, mapID)
	if errors.Is(err, storage.ErrNotFound) {
		writeHTTPError(w, r, apperrors.New(apperrors.CodeNotFound, "map not found"))
		return
	}
	if err != nil {
		writeHTTPError(w, r, apperrors.Wrap(apperrors.CodePersistenceFailure, "load map", err))
		return
	}
	if session.OwnerID != userID {
		_, err := h.deps.Members.GetCampaignMember(ctx, session.CampaignID, userID)
		if errors.Is(err, storage.ErrNotFound) {
			writeHTTPError(w, r, apperrors.New(apperrors.CodeForbidden, "not a member of this campaign"))
			return
		}
		if err != nil {
			writeHTTPError(w, r, apperrors.Wrap(apperrors.CodePersistenceFailure, "load membership", err))
			return
		}
	}

	participants := h.deps.Engine.Participants(session.ID)
	resp := mapResponse{
		mapSummaryResponse: mapSummaryResponse{
			ID:         session.ID,
			Name:       session.Name,
			OwnerID:    session.OwnerID,
			CampaignID: session.CampaignID,
			IsOpen:     session.IsOpen,
		},
		Snapshot: protocol.Snapshot{
			Markers: session.Snapshot.Markers,
			Lines:   session.Snapshot.Lines,
			Circles: session.Snapshot.Circles,
		}.Normalize(),
		CreatedAt:    session.CreatedAt,
		UpdatedAt:    session.UpdatedAt,
		Participants: make([]participantResponse, 0, len(participants)),
	}
	for _, participant := range participants {
		entry := participantResponse{
			ConnectionID: participant.ConnectionID,
			UserID:       participant.UserID,
			Role:         participant.Role,
			JoinedAt:     participant.JoinedAt,
		}
		if participant.CharacterID != "" {
			characterID := participant.CharacterID
			entry.CharacterID = &characterID
		}
		resp.Participants = append(resp.Participants, entry)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) setVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeHTTPError(w, r, err)
		return
	}
	if req.IsOpen == nil {
		writeHTTPError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "is_open is required"))
		return
	}
	mapID := strings.TrimSpace(r.PathValue("id"))
	if err := h.deps.Engine.SetVisibility(r.Context(), httpConn(r), mapID, *req.IsOpen); err != nil {
		writeHTTPError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": mapID, "is_open": *req.IsOpen})
}

func (h *handler) saveState(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		writeHTTPError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, "read body", err))
		return
	}
	var snapshot protocol.Snapshot
	if err := protocol.Decode(body, &snapshot); err != nil {
		writeHTTPError(w, r, err)
		return
	}
	mapID := strings.TrimSpace(r.PathValue("id"))
	if err := h.deps.Engine.SaveState(r.Context(), httpConn(r), mapID, snapshot.Normalize()); err != nil {
		writeHTTPError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) deleteMap(w http.ResponseWriter, r *http.Request) {
	mapID := strings.TrimSpace(r.PathValue("id"))
	if err := h.deps.Engine.DeleteMap(r.Context(), httpConn(r), mapID); err != nil {
		writeHTTPError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// httpConn is the engine caller for an HTTP request; it has no socket id.
func httpConn(r *http.Request) engine.Conn {
	return engine.Conn{
		UserID:    requestctx.UserIDFromContext(r.Context()),
		Localizer: i18n.For(i18n.Match(r.Header.Get("Accept-Language"))),
	}
}

func storeContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeouts.StoreCall)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid request body", err)
	}
	return nil
}

func summaryResponse(summary storage.MapSummary) mapSummaryResponse {
	return mapSummaryResponse{
		ID:         summary.ID,
		Name:       summary.Name,
		OwnerID:    summary.OwnerID,
		CampaignID: summary.CampaignID,
		IsOpen:     summary.IsOpen,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("mapsession: write response: %v", err)
	}
}

func httpStatus(code apperrors.Code) int {
	switch code {
	case apperrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeForbidden, apperrors.CodeNotJoined:
		return http.StatusForbidden
	case apperrors.CodeSessionClosed:
		return http.StatusConflict
	case apperrors.CodeOwnerOffline, apperrors.CodePersistenceFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeHTTPError renders err as {"error":{"code","message"}} with a message
// localized from Accept-Language.
func writeHTTPError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	switch code {
	case apperrors.CodePersistenceFailure, apperrors.CodeUnknown:
		log.Printf("mapsession: %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	localizer := i18n.For(i18n.Match(r.Header.Get("Accept-Language")))
	writeJSON(w, httpStatus(code), map[string]any{
		"error": map[string]string{
			"code":    code.WireCode(),
			"message": localizer.ErrorMessage(string(code), apperrors.ResourceOf(err)),
		},
	})
}
