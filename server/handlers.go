package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	userIDHeader       = "X-User-Id"
	defaultFilename    = "image.jpg"
	defaultContentType = "image/jpeg"
	defaultListLimit   = 100
	maxListLimit       = 1000

	// presignTTL is the lifetime of download links returned by View.
	presignTTL = time.Hour
)

// Handlers implements the image operations on top of a blob store and an
// image store. Handlers never return errors; failures are rendered as
// {"error": ...} responses.
type Handlers struct {
	blobs  BlobStore
	images ImageStore
	log    logrus.FieldLogger

	newID func() string
	now   func() time.Time
}

// NewHandlers creates the image operation handlers
func NewHandlers(blobs BlobStore, images ImageStore, log logrus.FieldLogger) *Handlers {
	return &Handlers{
		blobs:  blobs,
		images: images,
		log:    log,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Register adds the image routes to rt.
func (h *Handlers) Register(rt *Router) {
	rt.Handle(http.MethodPost, "/images/upload", h.Upload)
	rt.Handle(http.MethodGet, "/images", h.List)
	rt.Handle(http.MethodGet, "/images/{image_id}", h.View)
	rt.Handle(http.MethodDelete, "/images/{image_id}", h.Delete)
}

// uploadResult is the created record plus the blob reference.
type uploadResult struct {
	*Image
	S3URL string `json:"s3_url"`
}

type listResult struct {
	Count  int      `json:"count"`
	Images []*Image `json:"images"`
}

type downloadResult struct {
	ImageID      string `json:"image_id"`
	PresignedURL string `json:"presigned_url"`
	ExpiresIn    int    `json:"expires_in"`
	Metadata     *Image `json:"metadata"`
}

type deleteResult struct {
	Message string `json:"message"`
	ImageID string `json:"image_id"`
}

// Upload stores a new image and its record.
func (h *Handlers) Upload(ctx context.Context, req *Request) *Response {
	return h.respond(ctx, "upload", req, h.upload)
}

// List returns records from a bounded scan, filtered by user_id and
// content_type after the scan.
func (h *Handlers) List(ctx context.Context, req *Request) *Response {
	return h.respond(ctx, "list", req, h.list)
}

// View returns the image bytes inline, or a presigned link when
// download=true.
func (h *Handlers) View(ctx context.Context, req *Request) *Response {
	return h.respond(ctx, "view", req, h.view)
}

// Delete removes an image owned by the caller.
func (h *Handlers) Delete(ctx context.Context, req *Request) *Response {
	return h.respond(ctx, "delete", req, h.delete)
}

func (h *Handlers) respond(ctx context.Context, op string, req *Request, fn func(context.Context, *Request) (*Response, error)) *Response {
	resp, err := fn(ctx, req)
	if err == nil {
		return resp
	}

	var se *StatusError
	if errors.As(err, &se) {
		return errorResponse(se.Code, se.Message)
	}

	h.log.WithFields(logrus.Fields{
		"op":       op,
		"image_id": req.PathParam("image_id"),
		"user_id":  req.Header(userIDHeader),
	}).WithError(err).Error("Request failed")
	return errorResponse(http.StatusInternalServerError, "Internal server error")
}

func (h *Handlers) upload(ctx context.Context, req *Request) (*Response, error) {
	userID := req.Header(userIDHeader)
	if userID == "" {
		return nil, badRequest("X-User-Id header is required")
	}

	data, err := req.Payload()
	if err != nil {
		return nil, badRequest("Invalid base64 body")
	}
	if len(data) == 0 {
		return nil, badRequest("Image data is empty")
	}

	filename := req.Query("filename")
	if filename == "" {
		filename = defaultFilename
	}
	contentType := req.Header("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}

	image := &Image{
		ImageID:     h.newID(),
		UserID:      userID,
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		Metadata:    parseMetadata(req.Query("metadata")),
	}
	image.StorageKey = storageKey(userID, image.ImageID, filename)

	location, err := h.blobs.Put(ctx, image.StorageKey, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store image %s: %w", image.ImageID, err)
	}

	image.CreatedAt = h.now().UTC()
	if err := h.images.PutImage(ctx, image); err != nil {
		return nil, fmt.Errorf("failed to save record %s: %w", image.ImageID, err)
	}

	return jsonResponse(http.StatusCreated, uploadResult{Image: image, S3URL: location}), nil
}

// parseMetadata decodes the caller's metadata object. Anything that is not
// a JSON object yields an empty map.
func parseMetadata(raw string) map[string]interface{} {
	metadata := map[string]interface{}{}
	if raw == "" {
		return metadata
	}
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil || metadata == nil {
		return map[string]interface{}{}
	}
	return metadata
}

func (h *Handlers) list(ctx context.Context, req *Request) (*Response, error) {
	limit := defaultListLimit
	if raw := req.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, badRequest("Invalid parameter: limit must be an integer")
		}
		limit = n
	}
	if limit < 1 || limit > maxListLimit {
		return nil, badRequest(fmt.Sprintf("Limit must be between 1 and %d", maxListLimit))
	}

	candidates, err := h.images.ScanImages(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan images: %w", err)
	}

	images := filterImages(candidates, req.Query("user_id"), req.Query("content_type"), limit)
	return jsonResponse(http.StatusOK, listResult{Count: len(images), Images: images}), nil
}

func filterImages(candidates []*Image, userID, contentType string, limit int) []*Image {
	images := make([]*Image, 0, len(candidates))
	for _, img := range candidates {
		if userID != "" && img.UserID != userID {
			continue
		}
		if contentType != "" && img.ContentType != contentType {
			continue
		}
		images = append(images, img)
		if len(images) == limit {
			break
		}
	}
	return images
}

func (h *Handlers) view(ctx context.Context, req *Request) (*Response, error) {
	imageID := req.PathParam("image_id")
	if imageID == "" {
		return nil, badRequest("Image ID is required")
	}

	image, err := h.lookup(ctx, imageID)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(req.Query("download"), "true") {
		url, err := h.blobs.PresignedGet(ctx, image.StorageKey, presignTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to presign %s: %w", image.StorageKey, err)
		}
		return jsonResponse(http.StatusOK, downloadResult{
			ImageID:      image.ImageID,
			PresignedURL: url,
			ExpiresIn:    int(presignTTL.Seconds()),
			Metadata:     image,
		}), nil
	}

	data, err := h.blobs.Get(ctx, image.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", image.StorageKey, err)
	}

	contentType := image.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	return binaryResponse(http.StatusOK, map[string]string{
		"Content-Type":        contentType,
		"Content-Disposition": fmt.Sprintf("inline; filename=%q", image.Filename),
	}, data), nil
}

func (h *Handlers) delete(ctx context.Context, req *Request) (*Response, error) {
	imageID := req.PathParam("image_id")
	if imageID == "" {
		return nil, badRequest("Image ID is required")
	}
	userID := req.Header(userIDHeader)
	if userID == "" {
		return nil, badRequest("X-User-Id header is required")
	}

	image, err := h.lookup(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if image.UserID != userID {
		return nil, forbidden("You can only delete your own images")
	}

	// Blob first: a failure between the two deletes leaves a record whose
	// blob is gone rather than an unreachable blob.
	if err := h.blobs.Delete(ctx, image.StorageKey); err != nil {
		return nil, fmt.Errorf("failed to delete blob %s: %w", image.StorageKey, err)
	}
	if err := h.images.DeleteImage(ctx, imageID); err != nil {
		return nil, fmt.Errorf("failed to delete record %s: %w", imageID, err)
	}

	return jsonResponse(http.StatusOK, deleteResult{
		Message: "Image deleted successfully",
		ImageID: imageID,
	}), nil
}

func (h *Handlers) lookup(ctx context.Context, imageID string) (*Image, error) {
	image, err := h.images.GetImage(ctx, imageID)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound("Image not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", imageID, err)
	}
	return image, nil
}
