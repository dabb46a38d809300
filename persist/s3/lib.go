package s3

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/hashicorp/golang-lru/simplelru"
)

type S3Interface interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
	HeadObjectWithContext(ctx aws.Context, input *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error)
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// Persist implements the grove.Persist interface for storing and
// loading objects in an S3 bucket. Since object content is immutable,
// names seen by one operation are remembered to elide redundant
// requests.
type Persist struct {
	s3         S3Interface
	BucketName string
	Prefix     string
	mu         *sync.Mutex
	lru        *simplelru.LRU
}

// Load loads the bytes persisted in the named object.
func (p Persist) Load(ctx context.Context, name string) ([]byte, error) {
	input := s3.GetObjectInput{
		Bucket: &p.BucketName,
		Key:    aws.String(p.Prefix + name),
	}
	output, err := p.s3.GetObjectWithContext(ctx, &input)
	if err != nil {
		return nil, err
	}
	b, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, err
	}
	p.remember(name)
	return b, nil
}

// Store persists the given bytes in an object of the given name, if
// it hasn't been stored already.
func (p Persist) Store(ctx context.Context, name string, b []byte) error {
	if p.known(name) {
		return nil
	}
	input := s3.PutObjectInput{
		Bucket: &p.BucketName,
		Key:    aws.String(p.Prefix + name),
		Body:   bytes.NewReader(b),
	}
	_, err := p.s3.PutObjectWithContext(ctx, &input)
	if err != nil {
		return err
	}
	p.remember(name)
	return nil
}

// Has indicates whether an object of the given name exists.
func (p Persist) Has(ctx context.Context, name string) (bool, error) {
	if p.known(name) {
		return true, nil
	}
	input := s3.HeadObjectInput{
		Bucket: &p.BucketName,
		Key:    aws.String(p.Prefix + name),
	}
	_, err := p.s3.HeadObjectWithContext(ctx, &input)
	if err != nil {
		if reqerr, ok := err.(awserr.RequestFailure); ok && reqerr.StatusCode() == 404 {
			return false, nil
		}
		return false, err
	}
	p.remember(name)
	return true, nil
}

func (p Persist) known(name string) bool {
	p.mu.Lock()
	_, present := p.lru.Get(name)
	p.mu.Unlock()
	return present
}

func (p Persist) remember(name string) {
	p.mu.Lock()
	p.lru.Add(name, nil)
	p.mu.Unlock()
}

// NewPersist returns a Persist that loads and stores objects with the
// given S3 client and bucket name, under the given key prefix.
func NewPersist(client S3Interface, bucketName, prefix string) Persist {
	lru, err := simplelru.NewLRU(1000, nil)
	if err != nil {
		panic(err)
	}
	return Persist{client, bucketName, prefix, &sync.Mutex{}, lru}
}
