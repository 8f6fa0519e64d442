package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	config "github.com/phillip/schoolfund-go/config"
)

var pngHeader = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

func TestStoredName(t *testing.T) {
	now := time.UnixMilli(1714564800123)
	name := StoredName("Receipt Scan.JPG", now)
	assert.Regexp(t, regexp.MustCompile(`^1714564800123-[0-9a-f]{8}\.jpg$`), name)
	assert.NotEqual(t, name, StoredName("Receipt Scan.JPG", now))
	assert.Regexp(t, `^1714564800123-[0-9a-f]{8}$`, StoredName("noext", now))
}

func TestSniffMIME(t *testing.T) {
	r := bytes.NewReader(pngHeader)
	mt, err := SniffMIME(r)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mt)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, rest, "reader is rewound")

	mt, err = SniffMIME(strings.NewReader("just some text"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(mt, "text/plain"))
}

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	store := &LocalStore{Dir: dir, Now: func() time.Time { return time.UnixMilli(42) }}

	ref, err := store.Save(context.Background(), "evidence", "photo.PNG", bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.Regexp(t, `^/uploads/evidence/42-[0-9a-f]{8}\.png$`, ref)

	onDisk := filepath.Join(dir, "evidence", filepath.Base(ref))
	data, err := os.ReadFile(onDisk)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)

	require.NoError(t, store.Delete(context.Background(), ref))
	_, err = os.Stat(onDisk)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, store.Delete(context.Background(), ref), "deleting twice is fine")
	assert.Error(t, store.Delete(context.Background(), "/uploads/../../etc/passwd"))
}

func TestLocalStoreRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	store := &LocalStore{Dir: dir}

	r := io.MultiReader(bytes.NewReader(pngHeader), iotest.ErrReader(errors.New("connection reset")))
	_, err := store.Save(context.Background(), "evidence", "photo.png", r)
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "evidence"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalStoreBaseURL(t *testing.T) {
	store := &LocalStore{Dir: t.TempDir(), BaseURL: "https://api.example.org"}
	ref, err := store.Save(context.Background(), "logos", "logo.webp", bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "https://api.example.org/uploads/logos/"))
	assert.NoError(t, store.Delete(context.Background(), ref))
}

func TestExtractPublicID(t *testing.T) {
	cases := map[string]string{
		"https://res.cloudinary.com/demo/image/upload/v1234567890/schoolfund/evidence/abc.jpg": "schoolfund/evidence/abc",
		"https://res.cloudinary.com/demo/raw/upload/schoolfund/documents/report.pdf":           "schoolfund/documents/report",
	}
	for in, want := range cases {
		got, err := extractPublicID(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := extractPublicID("https://example.org/not/cloudinary.png")
	assert.Error(t, err)
}

func TestETags(t *testing.T) {
	id := primitive.NewObjectID()
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, GenerateETag(id, at), GenerateETag(id, at))
	assert.NotEqual(t, GenerateETag(id, at), GenerateETag(id, at.Add(time.Nanosecond)))
	assert.True(t, strings.HasPrefix(GenerateETag(id, at), `W/"`+id.Hex()))

	assert.Equal(t, ListETag(id, at, 3), ListETag(id, at, 3))
	assert.NotEqual(t, ListETag(id, at, 3), ListETag(id, at, 2))
}

func TestNewMailer(t *testing.T) {
	m, err := NewMailer(&config.Config{})
	require.NoError(t, err)
	assert.IsType(t, LogMailer{}, m)

	m, err = NewMailer(&config.Config{SMTPHost: "smtp.example.org:587"})
	require.NoError(t, err)
	assert.IsType(t, &SMTPMailer{}, m)

	_, err = NewMailer(&config.Config{SMTPHost: "no-port"})
	assert.Error(t, err)

	m, err = NewMailer(&config.Config{ZeptoAPIURL: "https://zepto.example", ZeptoAPIKey: "k", SMTPHost: "smtp.example.org:587"})
	require.NoError(t, err)
	assert.IsType(t, &ZeptoMailer{}, m)
}

func TestZeptoMailer(t *testing.T) {
	var got emailRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	z := &ZeptoMailer{APIURL: srv.URL, APIKey: "Zoho-enczapikey abc", From: "noreply@schoolfund.org", Client: srv.Client()}
	err := z.Send(context.Background(), Message{To: "sam@example.com", ToName: "Sam", Subject: "Hi", Text: "hello", HTML: "<p>hello</p>"})
	require.NoError(t, err)

	assert.Equal(t, "Zoho-enczapikey abc", auth)
	assert.Equal(t, "noreply@schoolfund.org", got.From.Address)
	require.Len(t, got.To, 1)
	assert.Equal(t, "sam@example.com", got.To[0].Email.Address)
	assert.Equal(t, "<p>hello</p>", got.HtmlBody)
}

func TestZeptoMailerRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	z := &ZeptoMailer{APIURL: srv.URL, APIKey: "bad", Client: srv.Client()}
	assert.Error(t, z.Send(context.Background(), Message{To: "x@example.com", Subject: "s"}))
}

func TestExtractPublicIDKeepsVersionLikeFolders(t *testing.T) {
	got, err := extractPublicID("https://res.cloudinary.com/demo/image/upload/videos/clip.png")
	require.NoError(t, err)
	assert.Equal(t, "videos/clip", got)
}
