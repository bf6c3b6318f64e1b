package routes

import (
	"fmt"
	"log/slog"
	"mime/multipart"
	"motion-grid/internal/broadcast"
	"net/http"
	"net/textproto"
	"strconv"
)

const streamBoundary = "frame"

// Stream serves overlay frames as MJPEG until the client goes away.
func Stream(frames *broadcast.Hub[[]byte]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		latest, hasLatest := frames.Latest()
		ch := frames.Subscribe()
		defer frames.Unsubscribe(ch)

		mw := multipart.NewWriter(w)
		if err := mw.SetBoundary(streamBoundary); err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", streamBoundary))
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		if hasLatest {
			if err := writeFrame(mw, latest); err != nil {
				return
			}
			flusher.Flush()
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case data, ok := <-ch:
				if !ok {
					return
				}
				if err := writeFrame(mw, data); err != nil {
					slog.Debug("stream client went away", "error", err)
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeFrame(mw *multipart.Writer, data []byte) error {
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":   {"image/jpeg"},
		"Content-Length": {strconv.Itoa(len(data))},
	})
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}
