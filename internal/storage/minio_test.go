package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		in         string
		wantHost   string
		wantSecure *bool
		wantErr    bool
	}{
		{in: "localhost:9000", wantHost: "localhost:9000"},
		{in: "http://localhost:9000", wantHost: "localhost:9000", wantSecure: &no},
		{in: "https://s3.example.com/", wantHost: "s3.example.com", wantSecure: &yes},
		{in: "https://s3.example.com/bucket", wantErr: true},
		{in: "s3.example.com/bucket", wantErr: true},
		{in: "ftp://s3.example.com", wantErr: true},
		{in: "https://", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		host, secure, err := parseEndpoint(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.wantHost, host, tt.in)
		assert.Equal(t, tt.wantSecure, secure, tt.in)
	}
}

func TestPresignPutIsOffline(t *testing.T) {
	client, err := NewMinIOClient(Config{
		Endpoint:  "http://127.0.0.1:1",
		AccessKey: "AKIAEXAMPLE",
		SecretKey: "secret",
		Region:    "eu-west-1",
	})
	require.NoError(t, err)

	u, err := client.PresignPut(context.Background(), "birds", "C1/sub/a.wav", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "/birds/C1/sub/a.wav", u.Path)
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}
