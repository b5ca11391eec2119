package handler

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/saiproject-202/ClassVibe/internal/apperror"
	"github.com/saiproject-202/ClassVibe/internal/auth"
	"github.com/saiproject-202/ClassVibe/internal/config"
	"github.com/saiproject-202/ClassVibe/internal/model"
	"github.com/saiproject-202/ClassVibe/internal/service"
)

// UploadHandler 파일 업로드 핸들러
type UploadHandler struct {
	classroom *service.Classroom
	cfg       config.UploadConfig
	allowed   map[string]bool
}

// NewUploadHandler UploadHandler 생성
func NewUploadHandler(classroom *service.Classroom, cfg config.UploadConfig) *UploadHandler {
	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}
	return &UploadHandler{classroom: classroom, cfg: cfg, allowed: allowed}
}

// Upload multipart "file" 필드를 UPLOAD_DIR에 저장하고 메타데이터 기록
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	principal := auth.GetPrincipal(c)

	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required")
	}
	if fh.Size <= 0 {
		return badRequest(c, "file is empty")
	}
	if h.cfg.MaxSize > 0 && fh.Size > h.cfg.MaxSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "file is too large",
			"code":  apperror.InvalidInput,
		})
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if len(h.allowed) > 0 && !h.allowed[ext] {
		return badRequest(c, "file type is not allowed")
	}

	if err := os.MkdirAll(h.cfg.Dir, 0o755); err != nil {
		return fail(c, apperror.Wrap(apperror.Internal, "prepare upload dir", err))
	}

	id := uuid.NewString()
	stored := id + ext
	if err := c.SaveFile(fh, filepath.Join(h.cfg.Dir, stored)); err != nil {
		return fail(c, apperror.Wrap(apperror.Internal, "save file", err))
	}

	upload := &model.Upload{
		ID:         id,
		UploaderID: principal.ID,
		URL:        "/uploads/" + stored,
		Name:       filepath.Base(fh.Filename),
		Size:       fh.Size,
		MimeType:   fh.Header.Get("Content-Type"),
	}
	if err := h.classroom.RegisterUpload(c.UserContext(), upload); err != nil {
		_ = os.Remove(filepath.Join(h.cfg.Dir, stored))
		return fail(c, err)
	}

	log.Printf("[Upload] 📎 %s uploaded %s (%d bytes)", principal.ID, upload.Name, upload.Size)
	return c.Status(fiber.StatusCreated).JSON(upload)
}
