package requirements

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"pylon/pkg/logging"
)

// S3Provider stores each plugin's requirements cache as a gzipped tarball
// object in an S3-compatible bucket, with a sibling "<name>.json" metadata
// object holding the cache hash.
type S3Provider struct {
	Bucket   string
	Prefix   string
	CacheDir string // local scratch directory for materialized payloads

	client *s3.S3
}

// NewS3Provider constructs an S3Provider against bucket, storing objects
// under prefix, using endpoint/region/credentials as given (endpoint may be
// empty to use AWS's default resolution; non-empty enables path-style
// addressing for MinIO-compatible endpoints).
func NewS3Provider(bucket, prefix, region, endpoint, accessKey, secretKey, cacheDir string, useSSL bool) (*S3Provider, error) {
	cfg := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewStaticCredentials(accessKey, secretKey, ""),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if !useSSL {
		cfg.DisableSSL = aws.Bool(true)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("requirements: creating AWS session: %w", err)
	}
	return &S3Provider{
		Bucket:   bucket,
		Prefix:   prefix,
		CacheDir: cacheDir,
		client:   s3.New(sess),
	}, nil
}

func (p *S3Provider) Init() error {
	return os.MkdirAll(p.CacheDir, 0o755)
}

func (p *S3Provider) Deinit() error { return nil }

func (p *S3Provider) payloadKey(name string) string {
	return strings.TrimPrefix(fmt.Sprintf("%s/%s.tar.gz", p.Prefix, name), "/")
}

func (p *S3Provider) metaKey(name string) string {
	return strings.TrimPrefix(fmt.Sprintf("%s/%s.json", p.Prefix, name), "/")
}

func (p *S3Provider) readMeta(name string) (cacheMeta, bool) {
	out, err := p.client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(p.metaKey(name)),
	})
	if err != nil {
		return cacheMeta{}, false
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return cacheMeta{}, false
	}
	var meta cacheMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, false
	}
	return meta, true
}

func (p *S3Provider) objectExists(key string) bool {
	_, err := p.client.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(key),
	})
	return err == nil
}

func (p *S3Provider) RequirementsExist(pluginName, cacheHash string) bool {
	meta, ok := p.readMeta(pluginName)
	return ok && meta.CacheHash == cacheHash && p.objectExists(p.payloadKey(pluginName))
}

func (p *S3Provider) GetRequirements(pluginName, cacheHash string) (string, bool) {
	if !p.RequirementsExist(pluginName, cacheHash) {
		return "", false
	}
	out, err := p.client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(p.payloadKey(pluginName)),
	})
	if err != nil {
		logging.Error("RequirementsProvider", err, "fetching cached requirements for %s", pluginName)
		return "", false
	}
	defer out.Body.Close()

	dest := filepath.Join(p.CacheDir, pluginName)
	if err := os.RemoveAll(dest); err != nil {
		return "", false
	}
	if err := untarGz(out.Body, dest); err != nil {
		logging.Error("RequirementsProvider", err, "extracting cached requirements for %s", pluginName)
		return "", false
	}
	return dest, true
}

func (p *S3Provider) AddRequirements(pluginName, cacheHash, path string) error {
	var buf bytes.Buffer
	if err := tarGzDir(path, &buf); err != nil {
		return fmt.Errorf("requirements: archiving %s: %w", path, err)
	}
	if _, err := p.client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(p.payloadKey(pluginName)),
		Body:   bytes.NewReader(buf.Bytes()),
	}); err != nil {
		return fmt.Errorf("requirements: uploading payload for %s: %w", pluginName, err)
	}

	metaData, err := json.Marshal(cacheMeta{CacheHash: cacheHash})
	if err != nil {
		return err
	}
	_, err = p.client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(p.metaKey(pluginName)),
		Body:   bytes.NewReader(metaData),
	})
	return err
}

func (p *S3Provider) DeleteRequirements(pluginName string) error {
	_, err := p.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(p.payloadKey(pluginName)),
	})
	if err != nil {
		return err
	}
	_, err = p.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(p.Bucket),
		Key:    aws.String(p.metaKey(pluginName)),
	})
	return err
}

func tarGzDir(root string, w io.Writer) error {
	gw := gzip.NewWriter(w)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

func untarGz(r io.Reader, dest string) error {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gr.Close()
	tr := tar.NewReader(gr)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}

var _ Provider = (*S3Provider)(nil)
