// Package storage persists generated media and hands out public URLs for it.
package storage

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"path"
	"strings"
)

var ErrNotFound = errors.New("object not found")

type Store interface {
	// Save writes r under key and returns the public URL of the object.
	Save(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	URL(key string) string
}

// VideoKey is the key of a job's final render. Served at <serve path><jobID>.mp4.
func VideoKey(jobID string) string {
	return jobID + ".mp4"
}

func AudioKey(jobID, sceneID, format string) string {
	if format == "" {
		format = "mp3"
	}
	return path.Join("audio", jobID, sceneID+"."+format)
}

func ImageKey(jobID, sceneID, format string) string {
	if format == "" {
		format = "png"
	}
	return path.Join("images", jobID, sceneID+"."+format)
}

const backgroundPrefix = "backgrounds/"

var clipExtensions = []string{".mp4", ".mov", ".mkv"}

// RandomBackgroundClip picks a stock clip under backgrounds/ and returns its URL.
func RandomBackgroundClip(ctx context.Context, s Store) (string, error) {
	keys, err := s.List(ctx, backgroundPrefix)
	if err != nil {
		return "", err
	}

	clips := keys[:0]
	for _, k := range keys {
		if isClip(k) {
			clips = append(clips, k)
		}
	}
	if len(clips) == 0 {
		return "", ErrNotFound
	}
	return s.URL(clips[rand.Intn(len(clips))]), nil
}

func isClip(key string) bool {
	ext := strings.ToLower(path.Ext(key))
	for _, e := range clipExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func cleanKey(key string) (string, error) {
	k := path.Clean("/" + key)
	if k == "/" {
		return "", errors.New("empty storage key")
	}
	return strings.TrimPrefix(k, "/"), nil
}
