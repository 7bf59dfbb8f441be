package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Vielheim/crux/internal/apperror"
	"github.com/Vielheim/crux/internal/upload"
)

const multipartMemory = 32 << 20

func uploadHandler(cfg *Config) http.HandlerFunc {
	maxSize := cfg.MaxUploadSize
	if maxSize <= 0 {
		maxSize = defaultMaxUploadSize
	}

	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSize)

		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				apperror.WriteJSON(w, r, apperror.WrapWithMessage(err, apperror.ErrInvalidInput, "File too large"))
				return
			}
			apperror.WriteJSON(w, r, apperror.WrapWithMessage(err, apperror.ErrInvalidInput, "Invalid multipart form"))
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		userID, err := strconv.ParseInt(strings.TrimSpace(r.FormValue("user_id")), 10, 64)
		if err != nil {
			apperror.WriteJSON(w, r, apperror.WrapWithMessage(err, apperror.ErrInvalidInput, "Invalid user_id"))
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			apperror.WriteJSON(w, r, apperror.WrapWithMessage(err, apperror.ErrInvalidInput, "Missing file"))
			return
		}
		defer func() { _ = file.Close() }()

		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		res, err := cfg.Uploader.Upload(r.Context(), upload.Request{
			UserID:      userID,
			Filename:    header.Filename,
			ContentType: contentType,
			Size:        header.Size,
			Body:        file,
		})
		if err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}

		writeJSON(w, http.StatusAccepted, res)
	}
}
