// Package marshaller shapes envelope batches for the wire, the way the
// teacher's internal/handler/marshaller/lp and /ws packages wrap domain
// events before they hit the socket.
package marshaller

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/channelstream/broker/internal/domain/model"
)

// WriteBatch encodes envs as a JSON array. If callback is non-empty, the
// response is wrapped as JSONP (spec.md §4.6 step 4) and served as
// javascript instead of plain JSON.
func WriteBatch(w http.ResponseWriter, envs []model.Envelope, callback string) error {
	if envs == nil {
		envs = []model.Envelope{}
	}
	body, err := json.Marshal(envs)
	if err != nil {
		return err
	}

	if callback == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, err = w.Write(body)
		return err
	}

	w.Header().Set("Content-Type", "application/javascript")
	w.WriteHeader(http.StatusOK)
	_, err = fmt.Fprintf(w, "%s(%s);", callback, body)
	return err
}
