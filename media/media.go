package media

import (
	"context"
	"mime/multipart"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// Upload is what the messaging core keeps about a stored blob; the bytes
// themselves live behind the returned URL.
type Upload struct {
	URL      string
	FileType string // image | video | file
	FileName string
}

// Uploader is the blob-store boundary consumed by the upload endpoints.
type Uploader interface {
	UploadChatFile(ctx context.Context, file *multipart.FileHeader) (*Upload, error)
	UploadVoiceNote(ctx context.Context, file *multipart.FileHeader) (*Upload, error)
}

type cloudinaryUploader struct {
	cld *cloudinary.Cloudinary
}

func NewCloudinaryUploader(cloudinaryURL string) (Uploader, error) {
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, err
	}
	return &cloudinaryUploader{cld: cld}, nil
}

func (u *cloudinaryUploader) UploadChatFile(ctx context.Context, file *multipart.FileHeader) (*Upload, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	result, err := u.cld.Upload.Upload(ctx, src, uploader.UploadParams{
		Folder:       "mingle_chat_files",
		ResourceType: "auto",
	})
	if err != nil {
		return nil, err
	}

	return &Upload{
		URL:      result.SecureURL,
		FileType: ClassifyContentType(file.Header.Get("Content-Type")),
		FileName: file.Filename,
	}, nil
}

func (u *cloudinaryUploader) UploadVoiceNote(ctx context.Context, file *multipart.FileHeader) (*Upload, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	// Cloudinary stores audio containers under the video resource type.
	result, err := u.cld.Upload.Upload(ctx, src, uploader.UploadParams{
		Folder:       "mingle_chat_audio",
		ResourceType: "video",
	})
	if err != nil {
		return nil, err
	}

	return &Upload{
		URL:      result.SecureURL,
		FileType: "file",
		FileName: file.Filename,
	}, nil
}

// ClassifyContentType buckets an uploaded blob's MIME type for rendering.
func ClassifyContentType(contentType string) string {
	switch {
	case strings.Contains(contentType, "image"):
		return "image"
	case strings.Contains(contentType, "video"):
		return "video"
	default:
		return "file"
	}
}
