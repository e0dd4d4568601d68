package canvas

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasadmin/canvasadmin/internal/retry"
)

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1}
}

func TestListCourseFilesFollowsPagination(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v1/courses/12/files", r.URL.Path)
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"id":2,"display_name":"notes.txt","url":"u2","size":3}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/courses/12/files?page=2&per_page=100>; rel="next", <%s/api/v1/courses/12/files?page=1>; rel="first"`, srv.URL, srv.URL))
		fmt.Fprint(w, `[{"id":1,"display_name":"syllabus.pdf","url":"u1","size":10}]`)
	}))
	defer srv.Close()

	files, err := NewClient(srv.URL+"/", "key", WithRetryPolicy(fastPolicy())).ListCourseFiles(context.Background(), 12)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "syllabus.pdf", files[0].DisplayName)
	assert.Equal(t, "notes.txt", files[1].DisplayName)
}

func TestRetriesRateLimitedRequests(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `[{"id":5,"name":"Biology","course_code":"BIO101"}]`)
	}))
	defer srv.Close()

	courses, err := NewClient(srv.URL, "key", WithRetryPolicy(fastPolicy())).ListCourses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []Course{{ID: 5, Name: "Biology", CourseCode: "BIO101"}}, courses)
}

func TestUnauthorizedIsPermanent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "bad", WithRetryPolicy(fastPolicy())).Self(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, calls)
}

func TestFileText(t *testing.T) {
	hello, err := os.ReadFile("testdata/hello.pdf")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/notes.txt":
			fmt.Fprint(w, "cell biology notes")
		case "/files/broken.pdf":
			fmt.Fprint(w, "not a pdf")
		case "/files/syllabus.pdf":
			w.Write(hello)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", WithRetryPolicy(fastPolicy()), WithFileSizeLimit(1000))
	ctx := context.Background()

	text, err := c.FileText(ctx, File{DisplayName: "notes.txt", URL: srv.URL + "/files/notes.txt", Size: 18})
	require.NoError(t, err)
	assert.Equal(t, "cell biology notes", text)

	_, err = c.FileText(ctx, File{DisplayName: "huge.pdf", URL: srv.URL + "/files/huge.pdf", Size: 1001})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, err = c.FileText(ctx, File{DisplayName: "slides.pptx", URL: srv.URL + "/files/slides.pptx", Size: 1})
	assert.ErrorIs(t, err, ErrUnsupportedFile)

	_, err = c.FileText(ctx, File{DisplayName: "broken.pdf", URL: srv.URL + "/files/broken.pdf", Size: 9})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrFileTooLarge))

	text, err = c.FileText(ctx, File{DisplayName: "syllabus.pdf", URL: srv.URL + "/files/syllabus.pdf", Size: int64(len(hello))})
	require.NoError(t, err)
	assert.Contains(t, text, "Hello Canvas")

	_, err = c.FileText(ctx, File{DisplayName: "gone.txt", URL: srv.URL + "/files/gone.txt", Size: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPDFText(t *testing.T) {
	raw, err := os.ReadFile("testdata/hello.pdf")
	require.NoError(t, err)

	text, err := pdfText(raw)
	require.NoError(t, err)
	assert.Contains(t, text, "Hello Canvas")
}

func TestPDFTextWithCorruptXrefReturnsError(t *testing.T) {
	// Object 1's xref entry points at object 2, which the pdf package panics on.
	raw, err := os.ReadFile("testdata/malformed_xref.pdf")
	require.NoError(t, err)

	var text string
	require.NotPanics(t, func() { text, err = pdfText(raw) })
	require.Error(t, err)
	assert.Empty(t, text)
}

func TestDownloadEnforcesLimitWhenSizeIsStale(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "0123456789")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", WithFileSizeLimit(5))
	_, err := c.Download(context.Background(), File{DisplayName: "a.txt", URL: srv.URL + "/a.txt", Size: 1})
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestAPIKeyOnlySentToCanvasHost(t *testing.T) {
	var gotAuth string
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, "x")
	}))
	defer files.Close()

	c := NewClient("https://canvas.example.edu", "key")
	_, err := c.Download(context.Background(), File{DisplayName: "a.txt", URL: files.URL + "/a.txt"})
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("Lecture 1.PDF"))
	assert.True(t, Supported("notes.txt"))
	assert.False(t, Supported("slides.pptx"))
	assert.False(t, Supported("pdf"))
}

func TestNextLink(t *testing.T) {
	header := `<https://c/api/v1/x?page=1>; rel="current", <https://c/api/v1/x?page=2>; rel="next"`
	assert.Equal(t, "https://c/api/v1/x?page=2", nextLink(header))
	assert.Equal(t, "", nextLink(`<https://c/api/v1/x?page=1>; rel="last"`))
	assert.Equal(t, "", nextLink(""))
}
