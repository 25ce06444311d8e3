package remotestore

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	syncpkg "usersync/internal/sync"
)

func newStatusErr(resource syncpkg.Resource, action string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return syncpkg.NewNetworkError(resource, action, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body))
}

func preconditionErr(resource syncpkg.Resource, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return syncpkg.NewPreconditionFailedError(resource, "remote ref no longer matches", fmt.Errorf("%s", body))
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
