package storage

import (
	"context"
	"fmt"
	"io"

	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
)

// bucketAPI is the part of the Supabase storage client this package uses.
type bucketAPI interface {
	UploadFile(bucketID, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	RemoveFile(bucketID string, paths []string) ([]storage_go.FileUploadResponse, error)
	GetPublicUrl(bucketID, filePath string, urlOptions ...storage_go.UrlOptions) storage_go.SignedUrlResponse
}

type SupabaseStore struct {
	api    bucketAPI
	bucket string
}

func NewSupabaseStore(projectURL, serviceKey, bucket string) (*SupabaseStore, error) {
	client, err := supabase.NewClient(projectURL, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseStore{api: client.Storage, bucket: bucket}, nil
}

func (s *SupabaseStore) Put(_ context.Context, key string, r io.Reader, contentType string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	upsert := false
	opts := storage_go.FileOptions{ContentType: &contentType, Upsert: &upsert}
	if _, err := s.api.UploadFile(s.bucket, key, r, opts); err != nil {
		return fmt.Errorf("upload %s to bucket %s: %w", key, s.bucket, err)
	}
	return nil
}

func (s *SupabaseStore) Delete(_ context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if _, err := s.api.RemoveFile(s.bucket, []string{key}); err != nil {
		return fmt.Errorf("remove %s from bucket %s: %w", key, s.bucket, err)
	}
	return nil
}

func (s *SupabaseStore) URL(key string) string {
	return s.api.GetPublicUrl(s.bucket, key).SignedURL
}
