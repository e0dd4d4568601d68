package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/canvasadmin/canvasadmin/internal/canvas"
	"github.com/canvasadmin/canvasadmin/internal/models"
	"github.com/canvasadmin/canvasadmin/internal/sources"
)

// CourseLister is the part of the Canvas API the connector uses.
type CourseLister interface {
	ListCourses(ctx context.Context) ([]canvas.Course, error)
	ListCourseFiles(ctx context.Context, courseID int64) ([]canvas.File, error)
	FileText(ctx context.Context, f canvas.File) (string, error)
}

// CanvasConnector indexes the .pdf and .txt files of Canvas courses.
type CanvasConnector struct {
	settings  Settings
	courseIDs []int64
	logger    *slog.Logger

	newClient func(baseURL, apiKey string) CourseLister
	client    CourseLister
}

// NewCanvasConnector creates a connector for the given courses. With no course
// ids every course visible to the API key is indexed.
func NewCanvasConnector(settings Settings, courseIDs []int64, logger *slog.Logger) *CanvasConnector {
	c := &CanvasConnector{settings: settings, courseIDs: courseIDs, logger: logger}
	c.newClient = func(baseURL, apiKey string) CourseLister {
		return canvas.NewClient(baseURL, apiKey,
			canvas.WithHTTPClient(&http.Client{Timeout: settings.HTTPTimeout}),
			canvas.WithFileSizeLimit(settings.FileSizeLimit),
		)
	}
	return c
}

// NewCanvasConnectorFrom is the Builder for Canvas connectors. It reads
// course_ids from connector_specific_config.
func NewCanvasConnectorFrom(conn models.Connector, settings Settings, logger *slog.Logger) (LoadConnector, error) {
	ids, err := courseIDs(conn.ConnectorSpecificConfig["course_ids"])
	if err != nil {
		return nil, fmt.Errorf("connector %d: %w", conn.ID, err)
	}
	return NewCanvasConnector(settings, ids, logger), nil
}

func courseIDs(raw any) ([]int64, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("course_ids must be a list")
	}
	ids := make([]int64, 0, len(list))
	for _, v := range list {
		switch n := v.(type) {
		case float64:
			ids = append(ids, int64(n))
		case int64:
			ids = append(ids, n)
		case int:
			ids = append(ids, int64(n))
		case string:
			id, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid course id %q", n)
			}
			ids = append(ids, id)
		default:
			return nil, fmt.Errorf("invalid course id %v", v)
		}
	}
	return ids, nil
}

func (c *CanvasConnector) LoadCredentials(credentials map[string]string) error {
	cred := sources.CanvasCredentialFromMap(credentials)
	if cred.CanvasBaseURL == "" || cred.CanvasAPIKey == "" {
		return fmt.Errorf("canvas: %w", ErrMissingCredential)
	}
	c.client = c.newClient(cred.CanvasBaseURL, cred.CanvasAPIKey)
	return nil
}

func (c *CanvasConnector) LoadFromState(ctx context.Context, emit func([]models.Document) error) error {
	if c.client == nil {
		return fmt.Errorf("canvas: %w", ErrMissingCredential)
	}

	courses, err := c.courses(ctx)
	if err != nil {
		return err
	}

	batchSize := c.settings.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultSettings().BatchSize
	}
	batch := make([]models.Document, 0, batchSize)

	for _, course := range courses {
		files, err := c.client.ListCourseFiles(ctx, course.ID)
		if err != nil {
			return fmt.Errorf("failed to list files of course %d: %w", course.ID, err)
		}

		for _, f := range files {
			if !canvas.Supported(f.DisplayName) {
				continue
			}
			text, err := c.client.FileText(ctx, f)
			if errors.Is(err, canvas.ErrFileTooLarge) {
				c.logger.Warn("skipping canvas file", "course_id", course.ID, "file", f.DisplayName, "size", f.Size, "error", err)
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to read %s in course %d: %w", f.DisplayName, course.ID, err)
			}

			batch = append(batch, canvasDocument(course, f, text))
			if len(batch) < batchSize {
				continue
			}
			if err := emit(batch); err != nil {
				return err
			}
			batch = make([]models.Document, 0, batchSize)
			if err := pause(ctx, c.settings.BatchPause); err != nil {
				return err
			}
		}
	}

	if len(batch) > 0 {
		return emit(batch)
	}
	return nil
}

func (c *CanvasConnector) courses(ctx context.Context) ([]canvas.Course, error) {
	if len(c.courseIDs) == 0 {
		courses, err := c.client.ListCourses(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list canvas courses: %w", err)
		}
		return courses, nil
	}
	courses := make([]canvas.Course, len(c.courseIDs))
	for i, id := range c.courseIDs {
		courses[i] = canvas.Course{ID: id}
	}
	return courses, nil
}

func canvasDocument(course canvas.Course, f canvas.File, text string) models.Document {
	metadata := map[string]string{"course_id": strconv.FormatInt(course.ID, 10)}
	if course.Name != "" {
		metadata["course_name"] = course.Name
	}
	return models.Document{
		// The file URL is stable across runs and already unique.
		ID:                 f.URL,
		Source:             models.SourceCanvas,
		SemanticIdentifier: f.DisplayName,
		Sections:           []models.Section{{Link: f.URL, Text: text}},
		Metadata:           metadata,
		UpdatedAt:          f.UpdatedAt,
	}
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
