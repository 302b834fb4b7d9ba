package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lkj1313/LiveBoard/internal/auth"
	"github.com/lkj1313/LiveBoard/internal/db"
	"github.com/lkj1313/LiveBoard/internal/ratelimit"
	"github.com/lkj1313/LiveBoard/internal/room"
	"github.com/lkj1313/LiveBoard/internal/session"
	"github.com/lkj1313/LiveBoard/internal/ws"
)

type API struct {
	hub      *ws.Hub
	registry *session.Registry
	database *db.Database
	// Per remote address limit on room creation
	creates *ratelimit.ClientLimiters
	// Optional chat cache, reported by /health
	cache Pinger
}

// Pinger is a backing service the health check pings.
type Pinger interface {
	Health(ctx context.Context) error
}

func New(hub *ws.Hub, registry *session.Registry, database *db.Database, creates *ratelimit.ClientLimiters) *API {
	return &API{
		hub:      hub,
		registry: registry,
		database: database,
		creates:  creates,
	}
}

// WithChatCache makes /health report the chat cache.
func (a *API) WithChatCache(cache Pinger) *API {
	a.cache = cache
	return a
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// The chat cache is optional, so an unreachable Redis degrades the status
// without failing the check.
func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if a.cache != nil {
		if err := a.cache.Health(r.Context()); err != nil {
			log.Printf("[API] chat cache health check failed: %v", err)
			health["status"] = "degraded"
			health["redis"] = "unavailable"
		} else {
			health["redis"] = "ok"
		}
	}

	jsonResponse(w, http.StatusOK, health)
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":        a.registry.RoomCount(),
		"active_participants": a.registry.ParticipantCount(),
		"active_connections":  a.hub.ClientCount(),
		"room_participants":   a.registry.ActiveRooms(),
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats(r.Context())
		if err == nil {
			stats["total_rooms"] = dbStats["room_count"]
			stats["total_strokes"] = dbStats["stroke_count"]
			stats["total_images"] = dbStats["image_count"]
			stats["total_chat_messages"] = dbStats["chat_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	room.Room
	ActiveUsers []string `json:"activeUsers"`
}

type CreateRoomRequest struct {
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

type BackgroundRequest struct {
	BackgroundURL string `json:"backgroundUrl"`
}

type ImageRequest struct {
	ID  string   `json:"id,omitempty"`
	URL string   `json:"url"`
	X   *float64 `json:"x"`
	Y   *float64 `json:"y"`
}

func (a *API) roomResponse(r room.Room) RoomResponse {
	return RoomResponse{Room: r, ActiveUsers: a.registry.List(r.ID)}
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rooms, err := a.database.ListRooms(r.Context(), limit, offset)
	if err != nil {
		log.Printf("[API] list rooms: %v", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	response := make([]RoomResponse, len(rooms))
	for i, rm := range rooms {
		response[i] = a.roomResponse(rm)
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	if a.creates != nil && !a.creates.Allow(clientIP(r)) {
		errorResponse(w, http.StatusTooManyRequests, "Too many rooms created, slow down")
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		errorResponse(w, http.StatusBadRequest, "Room name is required")
		return
	}

	newRoom := room.Room{
		ID:    uuid.NewString(),
		Name:  req.Name,
		Image: req.Image,
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		newRoom.OwnerID = claims.UserID
	}

	err := a.database.CreateRoom(r.Context(), newRoom)
	if errors.Is(err, db.ErrRoomExists) {
		errorResponse(w, http.StatusConflict, "Room name already taken")
		return
	}
	if err != nil {
		log.Printf("[API] create room: %v", err)
		errorResponse(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	created, err := a.database.GetRoom(r.Context(), newRoom.ID)
	if err != nil || created == nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}

	jsonResponse(w, http.StatusCreated, a.roomResponse(*created))
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	rm, ok := a.lookupRoom(w, r, roomID)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, a.roomResponse(*rm))
}

func (a *API) BackgroundHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	switch r.Method {
	case http.MethodGet:
		rm, ok := a.lookupRoom(w, r, roomID)
		if !ok {
			return
		}
		jsonResponse(w, http.StatusOK, BackgroundRequest{BackgroundURL: rm.BackgroundURL})

	case http.MethodPut:
		var req BackgroundRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		err := a.database.SetBackground(r.Context(), roomID, strings.TrimSpace(req.BackgroundURL))
		if errors.Is(err, db.ErrNotFound) {
			errorResponse(w, http.StatusNotFound, "Room not found")
			return
		}
		if err != nil {
			log.Printf("[API] set background for %s: %v", roomID, err)
			errorResponse(w, http.StatusInternalServerError, "Failed to update background")
			return
		}
		jsonResponse(w, http.StatusOK, BackgroundRequest{BackgroundURL: strings.TrimSpace(req.BackgroundURL)})

	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// Image handlers

func (a *API) ImagesHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	switch r.Method {
	case http.MethodGet:
		images, err := a.database.ListImages(r.Context(), roomID)
		if err != nil {
			errorResponse(w, http.StatusInternalServerError, "Failed to list images")
			return
		}
		jsonResponse(w, http.StatusOK, map[string]interface{}{"images": images})

	case http.MethodPost:
		if _, ok := a.lookupRoom(w, r, roomID); !ok {
			return
		}

		var req ImageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if strings.TrimSpace(req.URL) == "" {
			errorResponse(w, http.StatusBadRequest, "Image url is required")
			return
		}

		img := room.CanvasImage{ID: req.ID, URL: req.URL}
		if img.ID == "" {
			img.ID = uuid.NewString()
		}
		if req.X != nil {
			img.X = *req.X
		}
		if req.Y != nil {
			img.Y = *req.Y
		}

		if err := a.database.UpsertImage(r.Context(), roomID, img); err != nil {
			log.Printf("[API] add image to %s: %v", roomID, err)
			errorResponse(w, http.StatusInternalServerError, "Failed to add image")
			return
		}
		jsonResponse(w, http.StatusCreated, img)

	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *API) ImageHandler(w http.ResponseWriter, r *http.Request, roomID, imageID string) {
	switch r.Method {
	case http.MethodPut:
		var req ImageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.X == nil || req.Y == nil {
			errorResponse(w, http.StatusBadRequest, "x and y are required")
			return
		}

		err := a.database.MoveImage(r.Context(), roomID, imageID, *req.X, *req.Y)
		if errors.Is(err, db.ErrNotFound) {
			errorResponse(w, http.StatusNotFound, "Image not found")
			return
		}
		if err != nil {
			log.Printf("[API] move image %s in %s: %v", imageID, roomID, err)
			errorResponse(w, http.StatusInternalServerError, "Failed to move image")
			return
		}
		jsonResponse(w, http.StatusOK, map[string]interface{}{"id": imageID, "x": *req.X, "y": *req.Y})

	case http.MethodDelete:
		if err := a.database.DeleteImage(r.Context(), roomID, imageID); err != nil {
			log.Printf("[API] delete image %s in %s: %v", imageID, roomID, err)
			errorResponse(w, http.StatusInternalServerError, "Failed to delete image")
			return
		}
		jsonResponse(w, http.StatusOK, map[string]string{"message": "Image deleted"})

	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *API) lookupRoom(w http.ResponseWriter, r *http.Request, roomID string) (*room.Room, bool) {
	rm, err := a.database.GetRoom(r.Context(), roomID)
	if err != nil {
		log.Printf("[API] get room %s: %v", roomID, err)
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return nil, false
	}
	if rm == nil {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return nil, false
	}
	return rm, true
}

// RoomsRouter dispatches everything under /api/rooms:
//
//	/api/rooms
//	/api/rooms/{id}
//	/api/rooms/{id}/background
//	/api/rooms/{id}/images
//	/api/rooms/{id}/images/{imageId}
func (a *API) RoomsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/rooms"), "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			a.ListRoomsHandler(w, r)
		case http.MethodPost:
			a.CreateRoomHandler(w, r)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	parts := strings.Split(path, "/")
	roomID := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.GetRoomHandler(w, r, roomID)
	case len(parts) == 2 && parts[1] == "background":
		a.BackgroundHandler(w, r, roomID)
	case len(parts) == 2 && parts[1] == "images":
		a.ImagesHandler(w, r, roomID)
	case len(parts) == 3 && parts[1] == "images" && parts[2] != "":
		a.ImageHandler(w, r, roomID, parts[2])
	default:
		errorResponse(w, http.StatusNotFound, "Not found")
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
