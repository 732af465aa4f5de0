package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pixelmint/pixelmint/pkg/contextkeys"
	"github.com/pixelmint/pixelmint/pkg/httputil"
	"github.com/pixelmint/pixelmint/pkg/images"
)

// getImage handles GET /api/v1/images/{key}. With ?presign=true the response
// is a time-limited URL instead of the object bytes.
func (s *Server) getImage(w http.ResponseWriter, r *http.Request) {
	userID := contextkeys.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	key := httputil.GetPathVars(r)["key"]
	if key == "" {
		httputil.WriteValidationError(w, "Image key is required")
		return
	}

	presign, err := httputil.ParseQueryBool(r, "presign", false)
	if err != nil {
		httputil.WriteValidationError(w, "Invalid presign flag")
		return
	}

	if presign {
		url, err := s.images.PresignGet(r.Context(), key, 15*time.Minute)
		if err != nil {
			s.logger.WithError(err).Error("Failed to presign image")
			httputil.WriteInternalError(w, errors.New("failed to presign image"))
			return
		}
		httputil.WriteSuccess(w, map[string]string{"url": url})
		return
	}

	obj, err := s.images.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, images.ErrObjectNotFound) {
			httputil.WriteNotFoundError(w, "Image not found")
			return
		}
		s.logger.WithError(err).Error("Failed to fetch image")
		httputil.WriteInternalError(w, errors.New("failed to fetch image"))
		return
	}
	defer obj.Body.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.ContentLength, 10))
	}
	if obj.ETag != "" {
		w.Header().Set("ETag", obj.ETag)
	}
	io.Copy(w, obj.Body)
}
