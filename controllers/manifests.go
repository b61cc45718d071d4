package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"tourdesk_go/services"
	"tourdesk_go/storage"
)

type ManifestController struct {
	manifests *services.ManifestService
	storage   *storage.StorageService
	expires   time.Duration
}

// NewManifestController wires the manifest export. store may be nil, in
// which case upload requests fail with 503.
func NewManifestController(manifests *services.ManifestService, store *storage.StorageService, presignExpires time.Duration) *ManifestController {
	return &ManifestController{manifests: manifests, storage: store, expires: presignExpires}
}

// GetManifest downloads the XLSX dispatch manifest for :date. With
// ?upload=true the workbook is stored and a presigned link is returned.
func (mc *ManifestController) GetManifest(c *fiber.Ctx) error {
	buf, sum, err := mc.manifests.BuildManifest(c.UserContext(), c.Params("date"))
	if err != nil {
		return respondError(c, err)
	}

	if !c.QueryBool("upload", false) {
		c.Attachment(sum.FileName)
		c.Set(fiber.HeaderContentType, storage.ContentType(sum.FileName))
		return c.Send(buf.Bytes())
	}

	if mc.storage == nil {
		return respondError(c, storage.ErrNotConfigured)
	}
	key := mc.storage.ObjectKey("manifests", sum.FileName)
	if err := mc.storage.UploadBytes(key, buf.Bytes(), storage.ContentType(sum.FileName)); err != nil {
		return respondError(c, err)
	}
	url, err := mc.storage.PresignGet(key, mc.expires)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Manifest uploaded",
		"manifest": sum,
		"key":      key,
		"url":      url,
	})
}
