package main

import (
	"bytes"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"kisanmandi/pkg/config"
	"kisanmandi/pkg/identity"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.Zero(t, execute(cmd))
	require.Contains(t, out.String(), "kisanchat dev")
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range newRootCmd().Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["migrate"])
	require.True(t, names["version"])
}

func TestBuildTLSConfig_SelfSignedOutsideProduction(t *testing.T) {
	t.Setenv("TLS_CERT", "")
	t.Setenv("TLS_KEY", "")

	tlsCfg, certFile, keyFile, err := buildTLSConfig(config.TLSConfig{Enabled: true, AllowSelfSigned: true}, false)
	require.NoError(t, err)
	require.Empty(t, certFile)
	require.Empty(t, keyFile)
	require.Len(t, tlsCfg.Certificates, 1)

	leaf, err := x509.ParseCertificate(tlsCfg.Certificates[0].Certificate[0])
	require.NoError(t, err)
	require.Equal(t, "localhost", leaf.Subject.CommonName)
	require.True(t, leaf.NotAfter.After(time.Now()))

	_, _, _, err = buildTLSConfig(config.TLSConfig{Enabled: true, AllowSelfSigned: true}, true)
	require.Error(t, err)
}

func TestRouter_CORSAllowsIdentityHeader(t *testing.T) {
	cfg := config.Default()
	cfg.Server.CORSAllowedOrigins = []string{"https://app.example.in"}
	router := newRouter(&cfg)
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://app.example.in")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", identity.HeaderUserID)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, "https://app.example.in", w.Header().Get("Access-Control-Allow-Origin"))
}
