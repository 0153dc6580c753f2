package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vidfriends/mediahub/internal/auth"
	"github.com/vidfriends/mediahub/internal/storage"
	"github.com/vidfriends/mediahub/internal/videos"
)

// VideoHandler exposes the video pipeline over HTTP.
type VideoHandler struct {
	Videos  VideoService
	staging stager
}

// Create handles POST /api/v1/videos.
func (h VideoHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.staging.parse(w, r); err != nil {
		respondError(ctx, w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	paths, err := h.stageAll(r, "video", "thumbnail")
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	ownerID, _ := auth.UserIDFromContext(ctx)
	video, err := h.Videos.UploadVideo(ctx, videos.UploadInput{
		OwnerID:       ownerID,
		Title:         r.FormValue("title"),
		Description:   r.FormValue("description"),
		VideoPath:     paths[0],
		ThumbnailPath: paths[1],
	})
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondData(ctx, w, http.StatusCreated, video, "video uploaded successfully")
}

// Get handles GET /api/v1/videos/{videoId}.
func (h VideoHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	viewerID, _ := auth.UserIDFromContext(ctx)
	details, err := h.Videos.GetVideoByID(ctx, chi.URLParam(r, "videoId"), viewerID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondData(ctx, w, http.StatusOK, details, "video fetched successfully")
}

// Update handles PATCH /api/v1/videos/{videoId}.
func (h VideoHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.staging.parse(w, r); err != nil {
		respondError(ctx, w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	paths, err := h.stageAll(r, "video", "thumbnail")
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	callerID, _ := auth.UserIDFromContext(ctx)
	video, err := h.Videos.UpdateVideo(ctx, videos.UpdateInput{
		VideoID:       chi.URLParam(r, "videoId"),
		CallerID:      callerID,
		Title:         optionalFormValue(r, "title"),
		Description:   optionalFormValue(r, "description"),
		VideoPath:     paths[0],
		ThumbnailPath: paths[1],
	})
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondData(ctx, w, http.StatusOK, video, "video updated successfully")
}

// Delete handles DELETE /api/v1/videos/{videoId}.
func (h VideoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	callerID, _ := auth.UserIDFromContext(ctx)
	if err := h.Videos.DeleteVideo(ctx, chi.URLParam(r, "videoId"), callerID); err != nil {
		respondError(ctx, w, err)
		return
	}

	respondData(ctx, w, http.StatusOK, struct{}{}, "video deleted successfully")
}

// stageAll stages each named part. On error every part staged so far is removed.
func (h VideoHandler) stageAll(r *http.Request, fields ...string) ([]string, error) {
	paths := make([]string, 0, len(fields))
	for _, field := range fields {
		path, err := h.staging.stage(r, field)
		if err != nil {
			storage.RemoveStaged(paths...)
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
