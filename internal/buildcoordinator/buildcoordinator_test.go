package buildcoordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrotsystems/carrot/internal/cromwell"
	"github.com/carrotsystems/carrot/internal/gitmirror"
	"github.com/carrotsystems/carrot/internal/store"
	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// fakeStore implements only the store.Provider methods the coordinator
// calls; every other method panics so an unexpected call fails loudly.
type fakeStore struct {
	store.Provider
	software  *carrottypes.Software
	versions  map[string]*carrottypes.SoftwareVersion
	builds    map[string]*carrottypes.SoftwareBuild
	buildSeq  int
}

func newFakeStore(sw *carrottypes.Software) *fakeStore {
	return &fakeStore{software: sw, versions: map[string]*carrottypes.SoftwareVersion{}, builds: map[string]*carrottypes.SoftwareBuild{}}
}

func (f *fakeStore) GetSoftwareByName(ctx context.Context, name string) (*carrottypes.Software, error) {
	if f.software != nil && f.software.Name == name {
		return f.software, nil
	}
	return nil, nil
}

func (f *fakeStore) GetOrCreateSoftwareVersion(ctx context.Context, softwareID, commitHash string) (*carrottypes.SoftwareVersion, error) {
	key := softwareID + ":" + commitHash
	if v, ok := f.versions[key]; ok {
		return v, nil
	}
	v := &carrottypes.SoftwareVersion{SoftwareVersionID: "sv-" + commitHash, SoftwareID: softwareID, Commit: commitHash}
	f.versions[key] = v
	return v, nil
}

func (f *fakeStore) ResolveTag(ctx context.Context, softwareID, tag string) (*carrottypes.SoftwareVersion, error) {
	return nil, nil
}

func (f *fakeStore) FindOrCreateActiveBuild(ctx context.Context, softwareVersionID string) (*carrottypes.SoftwareBuild, bool, error) {
	if b, ok := f.builds[softwareVersionID]; ok {
		return b, false, nil
	}
	f.buildSeq++
	b := &carrottypes.SoftwareBuild{SoftwareBuildID: "b1", SoftwareVersionID: softwareVersionID, Status: carrottypes.BuildCreated}
	f.builds[softwareVersionID] = b
	return b, true, nil
}

func (f *fakeStore) UpdateBuildStatus(ctx context.Context, buildID string, status carrottypes.BuildStatus, imageURL, buildJobID *string) error {
	for _, b := range f.builds {
		if b.SoftwareBuildID == buildID {
			b.Status = status
			if imageURL != nil {
				b.ImageURL = imageURL
			}
			if buildJobID != nil {
				b.BuildJobID = buildJobID
			}
		}
	}
	return nil
}

func TestResolveAll_SubmitsNewBuildForUnbuiltVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"job-1","status":"Submitted"}`))
	}))
	defer srv.Close()

	sw := &carrottypes.Software{SoftwareID: "sw1", Name: "gatk", RepoURL: "https://example.com/gatk.git"}
	fs := newFakeStore(sw)
	engine := cromwell.New(srv.URL, time.Second)
	coord := New(fs, engine, gitmirror.New(), "workflow build {}", nil)

	input := []byte(`{"W.image":"image_build:gatk|` + "0123456789abcdef0123456789abcdef01234567" + `"}`)
	resolutions, err := coord.ResolveAll(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, resolutions, 1)
	assert.True(t, resolutions[0].Pending)
	assert.Equal(t, carrottypes.BuildSubmitted, fs.builds["sv-0123456789abcdef0123456789abcdef01234567"].Status)
}

func TestResolveAll_UnknownSoftwareIsValidationError(t *testing.T) {
	fs := newFakeStore(nil)
	engine := cromwell.New("http://unused", time.Second)
	coord := New(fs, engine, gitmirror.New(), "workflow build {}", nil)

	input := []byte(`{"W.image":"image_build:unknown|0123456789abcdef0123456789abcdef01234567"}`)
	_, err := coord.ResolveAll(context.Background(), input)
	require.Error(t, err)
	var cerr *carrottypes.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, carrottypes.ErrValidation, cerr.Kind)
}
