package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"slice2series/api/rest/routes"
	"slice2series/core/comm"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHTTPGroup_Collectives(t *testing.T) {
	const size = 3
	srv := NewServer("127.0.0.1:0", comm.NewCoordinator(size), nil, nil)
	addr, err := srv.Start()
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, srv.Shutdown(ctx))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := make([][]byte, size)
	var gathered [][]byte

	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		rank := rank
		g.Go(func() error {
			c, err := comm.NewHTTP(comm.HTTPConfig{Rank: rank, Size: size, BaseURL: addr, Timeout: 5 * time.Second})
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Barrier(ctx); err != nil {
				return err
			}
			got, err := c.Broadcast(ctx, []byte(fmt.Sprintf("inventory-%d", rank)))
			if err != nil {
				return err
			}
			results[rank] = got

			parts, err := c.Gather(ctx, []byte{byte('a' + rank)})
			if err != nil {
				return err
			}
			if rank == comm.ManagerRank {
				gathered = parts
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, r := range results {
		assert.Equal(t, "inventory-0", string(r))
	}
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, gathered)
}

func TestRoutes_HealthAndPending(t *testing.T) {
	r := mux.NewRouter()
	routes.SetupRoutes(r, comm.NewCoordinator(2), nil, nil)
	ts := httptest.NewServer(r)
	defer ts.Close()
	defer http.DefaultClient.CloseIdleConnections()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/collectives")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Size    int                `json:"size"`
		Pending []comm.RoundStatus `json:"pending"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Size)
	assert.Empty(t, body.Pending)
}

func TestRoutes_BadCollective(t *testing.T) {
	r := mux.NewRouter()
	routes.SetupRoutes(r, comm.NewCoordinator(1), nil, nil)
	ts := httptest.NewServer(r)
	defer ts.Close()
	defer http.DefaultClient.CloseIdleConnections()

	resp, err := http.Post(ts.URL+"/v1/collectives/1/scatter/ranks/0", "application/octet-stream", strings.NewReader(""))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/v1/collectives/1/barrier/ranks/4", "application/octet-stream", strings.NewReader(""))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
