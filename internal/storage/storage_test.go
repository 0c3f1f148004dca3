package storage

import "testing"

func TestKeyFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "plain key",
			url:  "http://localhost:9000/vidhub-media/images/2f0c9a7e",
			want: "2f0c9a7e",
		},
		{
			name: "extension stripped",
			url:  "https://cdn.example.com/media/images/portrait.png",
			want: "portrait",
		},
		{
			name: "trailing slash",
			url:  "http://localhost:9000/vidhub-media/images/2f0c9a7e/",
			want: "2f0c9a7e",
		},
		{
			name: "query-free versioned name keeps only the stem",
			url:  "https://cdn.example.com/images/v1629900000/sample.jpg",
			want: "sample",
		},
		{
			name: "empty url",
			url:  "",
			want: "",
		},
		{
			name: "bare slash",
			url:  "/",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KeyFromURL(tt.url); got != tt.want {
				t.Errorf("KeyFromURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestObjectKeyRoundTrip(t *testing.T) {
	store := &MediaStore{bucket: "vidhub-media", publicURL: "http://localhost:9000"}

	id := "3aa9c34d-9f5a-4a44-8a3b-000000000000"
	key := store.objectKey(id)
	url := "http://localhost:9000/vidhub-media/" + key

	if got := KeyFromURL(url); got != id {
		t.Errorf("KeyFromURL(%q) = %q, want the original id %q", url, got, id)
	}
}
