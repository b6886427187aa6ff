package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"media-acquirer/internal/domain"
)

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Organizer files completed downloads under a per-request key layout:
//
//	<prefix>/movies/<title>-<year>/...
//	<prefix>/tv/<title>/...
//	<prefix>/games/<title>/...
type Organizer struct {
	uploader Uploader
	bucket   string
	prefix   string
	log      *logrus.Logger
}

// NewOrganizer returns an organizer. A nil uploader or empty bucket disables
// remote organization and leaves downloads where the engine put them.
func NewOrganizer(uploader Uploader, bucket, prefix string, log *logrus.Logger) *Organizer {
	if log == nil {
		log = logrus.New()
	}
	return &Organizer{uploader: uploader, bucket: bucket, prefix: strings.Trim(prefix, "/"), log: log}
}

func (o *Organizer) Enabled() bool {
	return o != nil && o.uploader != nil && o.bucket != ""
}

// Organize uploads localPath for the request and returns the destination.
func (o *Organizer) Organize(ctx context.Context, req *domain.Request, localPath string) (string, error) {
	logger := o.log.WithFields(logrus.Fields{"request_id": req.ID, "path": localPath})
	if !o.Enabled() {
		logger.Debug("object storage disabled, keeping local files")
		return localPath, nil
	}
	if localPath == "" {
		return "", fmt.Errorf("request %d has no local download path", req.ID)
	}

	key := KeyFor(o.prefix, req)
	var uploaded int64
	dest, err := o.uploader.UploadPath(ctx, localPath, UploadOptions{
		Bucket:    o.bucket,
		KeyPrefix: key,
		ProgressCallback: func(done, total int64) {
			uploaded = done
		},
	})
	if err != nil {
		return "", fmt.Errorf("organize request %d: %w", req.ID, err)
	}
	logger.WithField("destination", dest).Infof("organized %s", humanize.Bytes(uint64(uploaded)))
	return dest, nil
}

// KeyFor returns the object key prefix for a request.
func KeyFor(prefix string, req *domain.Request) string {
	var kind string
	switch req.Kind {
	case domain.KindTVShow:
		kind = "tv"
	case domain.KindGame:
		kind = "games"
	default:
		kind = "movies"
	}

	name := Slug(req.Title)
	if name == "" {
		name = fmt.Sprintf("request-%d", req.ID)
	}
	if req.Kind == domain.KindMovie && req.Year > 0 {
		name = fmt.Sprintf("%s-%d", name, req.Year)
	}
	return objectKey(prefix, kind+"/"+name)
}

func Slug(title string) string {
	return strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(title), "-"), "-")
}
