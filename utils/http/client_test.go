package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient(t *testing.T) {
	t.Parallel()

	client := NewHTTPClient()
	assert.NotNil(t, client)

	// 验证类型断言
	httpClient, ok := client.(*HTTPClient)
	require.True(t, ok)
	assert.NotNil(t, httpClient.client)
	assert.Equal(t, 30*time.Second, httpClient.client.Timeout)

	unlimited, ok := NewHTTPClientWithTimeout(0).(*HTTPClient)
	require.True(t, ok)
	assert.Zero(t, unlimited.client.Timeout)
}

func TestHTTPClient_DoHTTPRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		requestParam *RequestParam
		handler      http.HandlerFunc
		wantErr      bool
		wantErrMsg   string
	}{
		{
			name: "GET success",
			requestParam: &RequestParam{
				Method: "GET",
			},
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(`{"message": "success"}`))
			},
		},
		{
			name: "POST with JSON body",
			requestParam: &RequestParam{
				Method: "POST",
				Body:   map[string]interface{}{"key": "value"},
			},
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Content-Type") != "application/json" {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				var data map[string]interface{}
				if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data["key"] != "value" {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				_, _ = w.Write([]byte(`{"received": true}`))
			},
		},
		{
			name: "POST with io.Reader body",
			requestParam: &RequestParam{
				Method: "POST",
				Body:   strings.NewReader(`{"reader": "body"}`),
				Header: map[string]string{"Content-Type": "application/json"},
			},
			handler: func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				if string(body) != `{"reader": "body"}` || r.Header.Get("Content-Type") != "application/json" {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				_, _ = w.Write([]byte(`{"received": true}`))
			},
		},
		{
			name: "server error status",
			requestParam: &RequestParam{
				Method: "GET",
			},
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error": "server error"}`))
			},
			wantErr:    true,
			wantErrMsg: "HTTP request failed with status 500",
		},
		{
			name: "request timeout",
			requestParam: &RequestParam{
				Method:  "GET",
				Timeout: 100 * time.Millisecond,
			},
			handler: func(w http.ResponseWriter, r *http.Request) {
				// 模拟慢响应
				time.Sleep(300 * time.Millisecond)
				w.WriteHeader(http.StatusOK)
			},
			wantErr:    true,
			wantErrMsg: "context deadline exceeded",
		},
		{
			name:         "nil request param",
			requestParam: nil,
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			wantErr:    true,
			wantErrMsg: "request param is nil",
		},
		{
			name: "invalid url",
			requestParam: &RequestParam{
				Method:     "GET",
				RequestURI: "://invalid-url",
			},
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			wantErr:    true,
			wantErrMsg: "missing protocol scheme",
		},
		{
			name: "unserializable body",
			requestParam: &RequestParam{
				Method: "POST",
				Body:   make(chan int),
			},
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			wantErr:    true,
			wantErrMsg: "json: unsupported type: chan int",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(tt.handler)
			defer server.Close()
			if tt.requestParam != nil && tt.requestParam.RequestURI == "" {
				tt.requestParam.RequestURI = server.URL
			}

			err := NewHTTPClient().DoHTTPRequest(context.Background(), tt.requestParam)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestHTTPClient_DoHTTPRequest_StatusError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream down"}`))
	}))
	defer server.Close()

	var resp map[string]interface{}
	err := NewHTTPClient().DoHTTPRequest(context.Background(), &RequestParam{
		Method:     "GET",
		RequestURI: server.URL,
		Response:   &resp,
	})

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.JSONEq(t, `{"error":"upstream down"}`, string(statusErr.Body))
	assert.Nil(t, resp)
}

func TestHTTPClient_DoHTTPRequest_DecodesResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"image": "data:image/png;base64,AQ=="}`))
	}))
	defer server.Close()

	var resp struct {
		Image string `json:"image"`
	}
	err := NewHTTPClient().DoHTTPRequest(context.Background(), &RequestParam{
		Method:     "POST",
		RequestURI: server.URL,
		Body:       []byte("payload"),
		Response:   &resp,
	})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AQ==", resp.Image)
}

func TestHTTPClient_DoHTTPRequest_ContextCancellation(t *testing.T) {
	t.Parallel()

	// 创建一个会延迟响应的服务器
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := NewHTTPClient().DoHTTPRequest(ctx, &RequestParam{
		Method:     "GET",
		RequestURI: server.URL,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context canceled")
}

func TestHTTPClient_DoHTTPRequest_BytesBody(t *testing.T) {
	t.Parallel()

	testData := []byte("test bytes data")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != string(testData) || r.Header.Get("Content-Type") != "text/plain" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := NewHTTPClient().DoHTTPRequest(context.Background(), &RequestParam{
		Method:     "POST",
		RequestURI: server.URL,
		Body:       testData,
	})
	assert.NoError(t, err)
}
