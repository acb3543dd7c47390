package socsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/hr_sync_backend/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(timeout time.Duration) *Client {
	s := config.DefaultSyncSettings()
	s.FetchTimeout = timeout
	s.FetchRatePerSecond = 0
	return NewClient(s)
}

func serve(t *testing.T, status int, body []byte) (*httptest.Server, *url.URL) {
	t.Helper()
	got := new(url.URL)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = *r.URL
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestClientDecodesLegacyCharset(t *testing.T) {
	srv, got := serve(t, http.StatusOK, []byte("[{\"CODIGO\":\"1\",\"NOME\":\"Jos\xe9 Ara\xfajo\"}]"))

	ds, err := newTestClient(5*time.Second).Fetch(context.Background(), "employee", Params{
		BaseURL: srv.URL + "/WebSoc/exportadados",
		Values:  map[string]string{"empresa": "10", "codigo": "99", "chave": "abc", "tipoSaida": "json"},
	})
	require.NoError(t, err)
	require.Len(t, ds.Records, 1)
	assert.Equal(t, "José Araújo", ds.Records[0].Get("NOME").String())

	assert.Equal(t, "/WebSoc/exportadados", got.Path)
	var params map[string]string
	require.NoError(t, json.Unmarshal([]byte(got.Query().Get("parametro")), &params))
	assert.Equal(t, "abc", params["chave"])
	assert.Equal(t, "json", params["tipoSaida"])
}

func TestClientUTF8Charset(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, []byte(`[{"NOME":"José"}]`))
	s := config.DefaultSyncSettings()
	s.Charset = config.CharsetUTF8
	ds, err := NewClient(s).Fetch(context.Background(), "employee", Params{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "José", ds.Records[0].Get("NOME").String())
}

func TestClientEmptyArray(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, []byte(" [] \n"))
	ds, err := newTestClient(time.Second).Fetch(context.Background(), "company", Params{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Empty(t, ds.Records)
}

func TestClientRejectsBadResponses(t *testing.T) {
	cases := map[string]string{
		"not an array": `{"erro":"chave invalida"}`,
		"invalid json": `[{"CODIGO":`,
		"html page":    `<html>erro</html>`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv, _ := serve(t, http.StatusOK, []byte(body))
			_, err := newTestClient(time.Second).Fetch(context.Background(), "company", Params{BaseURL: srv.URL})
			var bad *BadResponseError
			require.True(t, errors.As(err, &bad), "got %v", err)
			assert.NotEmpty(t, bad.Sample)
		})
	}
}

func TestClientHTTPStatus(t *testing.T) {
	srv, _ := serve(t, http.StatusInternalServerError, []byte("falha interna"))
	_, err := newTestClient(time.Second).Fetch(context.Background(), "company", Params{BaseURL: srv.URL})
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, "falha interna", statusErr.Sample)
}

func TestClientRejectsOversizedBody(t *testing.T) {
	body := []byte(companiesJSON(50))
	srv, _ := serve(t, http.StatusOK, body)

	c := newTestClient(time.Second)
	c.maxBody = int64(len(body) - 1)
	_, err := c.Fetch(context.Background(), "company", Params{BaseURL: srv.URL})
	var bad *BadResponseError
	require.True(t, errors.As(err, &bad), "got %v", err)
	assert.Contains(t, bad.Reason, "exceeds")

	c.maxBody = int64(len(body))
	ds, err := c.Fetch(context.Background(), "company", Params{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Len(t, ds.Records, 50)
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	_, err := newTestClient(50*time.Millisecond).Fetch(context.Background(), "company", Params{BaseURL: srv.URL})
	var timeout *TimeoutError
	require.True(t, errors.As(err, &timeout), "got %v", err)
	assert.Equal(t, 50*time.Millisecond, timeout.After)
}

func TestClientNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	closed := srv.URL
	srv.Close()

	_, err := newTestClient(time.Second).Fetch(context.Background(), "company", Params{BaseURL: closed})
	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr), "got %v", err)
}

func TestClientRelativeBaseURL(t *testing.T) {
	_, err := newTestClient(time.Second).Fetch(context.Background(), "company", Params{BaseURL: "/exportadados"})
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
}

func TestSampleTruncates(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	s := sample(long)
	assert.Len(t, s, maxSampleBytes+3)
	assert.Equal(t, "abc", sample([]byte("abc")))
}
