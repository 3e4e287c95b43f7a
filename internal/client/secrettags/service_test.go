package secrettags

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/tagkeeper/internal/credential"
	"github.com/atinyakov/tagkeeper/internal/errs"
	"github.com/atinyakov/tagkeeper/internal/kvstore"
	"github.com/atinyakov/tagkeeper/internal/models"
	"github.com/atinyakov/tagkeeper/internal/opaque"
	"github.com/atinyakov/tagkeeper/internal/phrase"
	"github.com/atinyakov/tagkeeper/internal/session"
	"github.com/atinyakov/tagkeeper/internal/tagcache"
)

var testKSF = opaque.KSF{Time: 1, MemoryKiB: 64, Threads: 1}

// fakeAPI answers like the reference server, backed by an in-process
// opaque.Server. The *Err fields inject failures.
type fakeAPI struct {
	mu      sync.Mutex
	srv     *opaque.Server
	names   map[string]string
	tags    map[string]models.Tag
	records map[string]*opaque.RegistrationRecord
	devices map[string]string
	logins  map[string]*opaque.ServerLogin
	seq     int

	registerStarts int
	listCalls      int

	LoginStartErr  error
	LoginFinishErr error
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	seed, err := opaque.GenerateSeed()
	require.NoError(t, err)
	srv, err := opaque.NewServer(seed)
	require.NoError(t, err)
	return &fakeAPI{
		srv:     srv,
		names:   make(map[string]string),
		tags:    make(map[string]models.Tag),
		records: make(map[string]*opaque.RegistrationRecord),
		devices: make(map[string]string),
		logins:  make(map[string]*opaque.ServerLogin),
	}
}

func (f *fakeAPI) RegisterStart(_ context.Context, req models.RegisterStartRequest) (models.RegisterStartResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerStarts++
	msg, err := opaque.DecodeRegistrationRequest(req.Message)
	if err != nil {
		return models.RegisterStartResponse{}, err
	}
	f.seq++
	id := fmt.Sprintf("tag-%d", f.seq)
	resp, err := f.srv.Register(id, msg)
	if err != nil {
		return models.RegisterStartResponse{}, err
	}
	f.names[id] = req.Name
	if req.SecurityLevel == models.SecurityEnhanced {
		f.devices[id] = req.DeviceFingerprint
	}
	return models.RegisterStartResponse{TagID: id, Message: resp.Encode()}, nil
}

func (f *fakeAPI) RegisterFinish(_ context.Context, req models.RegisterFinishRequest) (models.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, err := opaque.DecodeRegistrationRecord(req.Message)
	if err != nil {
		return models.Tag{}, err
	}
	name, ok := f.names[req.TagID]
	if !ok {
		return models.Tag{}, errs.ErrNotFound
	}
	f.records[req.TagID] = rec
	tag := models.Tag{ID: req.TagID, Name: name, Secret: true, AuthMethod: models.AuthOpaque, Version: int64(f.seq)}
	f.tags[req.TagID] = tag
	return tag, nil
}

func (f *fakeAPI) LoginStart(_ context.Context, req models.LoginStartRequest) (models.LoginStartResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LoginStartErr != nil {
		return models.LoginStartResponse{}, f.LoginStartErr
	}
	msg, err := opaque.DecodeLoginRequest(req.Message)
	if err != nil {
		return models.LoginStartResponse{}, err
	}
	rec := f.records[req.TagID]
	if bound, ok := f.devices[req.TagID]; ok && bound != req.DeviceFingerprint {
		rec = nil
	}
	resp, st, err := f.srv.StartLogin(req.TagID, rec, msg)
	if err != nil {
		return models.LoginStartResponse{}, err
	}
	f.seq++
	id := fmt.Sprintf("login-%d", f.seq)
	f.logins[id] = st
	return models.LoginStartResponse{LoginID: id, Message: resp.Encode()}, nil
}

func (f *fakeAPI) LoginFinish(_ context.Context, req models.LoginFinishRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LoginFinishErr != nil {
		return f.LoginFinishErr
	}
	st, ok := f.logins[req.LoginID]
	if !ok {
		return errs.ErrAuthenticationFailed
	}
	delete(f.logins, req.LoginID)
	fin, err := opaque.DecodeLoginFinish(req.Message)
	if err != nil {
		return err
	}
	_, err = st.Finish(fin)
	return err
}

func (f *fakeAPI) ListSecretTags(context.Context) ([]models.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	out := make([]models.Tag, 0, len(f.tags))
	for _, t := range f.tags {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeAPI) DeleteSecretTag(_ context.Context, tagID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tags[tagID]; !ok {
		return errs.ErrNotFound
	}
	delete(f.tags, tagID)
	delete(f.records, tagID)
	return nil
}

func (f *fakeAPI) lists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

type fixedTimeout time.Duration

func (d fixedTimeout) SessionTimeout() time.Duration { return time.Duration(d) }

func newService(t *testing.T, api *fakeAPI, mode tagcache.Mode, opts ...Option) *Service {
	t.Helper()
	cache, err := tagcache.New(kvstore.NewMemoryStore(), api, mode)
	require.NoError(t, err)
	opts = append([]Option{WithCredentials(credential.New(credential.WithKSF(testKSF)))}, opts...)
	s := New(api, cache, fixedTimeout(2*time.Minute), opts...)
	t.Cleanup(s.Shutdown)
	return s
}

func createTag(t *testing.T, s *Service, name, p string) models.Tag {
	t.Helper()
	tag, warning, err := s.CreateSecretTag(context.Background(), name, []byte(p), "#112233", models.SecurityStandard)
	require.NoError(t, err)
	assert.Equal(t, phrase.UnrecoverablePhraseWarning, warning)
	return tag
}

func TestCreateUnlockEncrypt(t *testing.T) {
	api := newFakeAPI(t)
	s := newService(t, api, tagcache.ModeOnline)
	ctx := context.Background()

	tag := createTag(t, s, "Private", "purple elephant")
	assert.True(t, tag.Secret)
	assert.NotEmpty(t, tag.ID)

	require.NoError(t, s.Unlock(ctx, tag.ID, []byte("purple elephant")))
	assert.True(t, s.Sessions().IsActive(tag.ID))

	sealed, err := s.EncryptForTag(ctx, tag.ID, "dear diary")
	require.NoError(t, err)
	plain, err := s.DecryptForTag(ctx, tag.ID, sealed)
	require.NoError(t, err)
	assert.Equal(t, "dear diary", plain)

	tags, err := s.Cache().GetSecretTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "Private", tags[0].Name)
}

func TestUnlock_WrongPhraseAndUnknownTagLookTheSame(t *testing.T) {
	api := newFakeAPI(t)
	s := newService(t, api, tagcache.ModeOnline)
	ctx := context.Background()
	tag := createTag(t, s, "Private", "purple elephant")

	err := s.Unlock(ctx, tag.ID, []byte("Purple elephant"))
	assert.ErrorIs(t, err, errs.ErrAuthenticationFailed)
	assert.Equal(t, session.StateAbsent, s.Sessions().State(tag.ID))

	err = s.Unlock(ctx, "no-such-tag", []byte("purple elephant"))
	assert.ErrorIs(t, err, errs.ErrAuthenticationFailed)
	assert.Equal(t, session.StateAbsent, s.Sessions().State("no-such-tag"))
}

func TestCreateSecretTag_ValidatesBeforeNetwork(t *testing.T) {
	tests := []struct {
		name   string
		tag    string
		phrase string
		color  string
		want   error
	}{
		{"common word", "Private", "hello", "", errs.ErrDisallowedPhrase},
		{"short phrase", "Private", "ab", "", errs.ErrInvalidInput},
		{"empty name", "  ", "purple elephant", "", errs.ErrInvalidInput},
		{"bad color", "Private", "purple elephant", "red", errs.ErrInvalidInput},
		{"unknown level", "Private", "purple elephant", "", errs.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t)
			s := newService(t, api, tagcache.ModeOnline)
			level := models.SecurityStandard
			if tt.name == "unknown level" {
				level = "paranoid"
			}
			_, _, err := s.CreateSecretTag(context.Background(), tt.tag, []byte(tt.phrase), tt.color, level)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, api.registerStarts)
		})
	}
}

func TestCreateSecretTag_DuplicateNameIgnoresCase(t *testing.T) {
	api := newFakeAPI(t)
	s := newService(t, api, tagcache.ModeOffline)
	createTag(t, s, "Private", "purple elephant")

	_, _, err := s.CreateSecretTag(context.Background(), "PRIVATE", []byte("green giraffe"), "", models.SecurityStandard)
	assert.ErrorIs(t, err, errs.ErrDuplicateName)
	assert.Equal(t, 1, api.registerStarts)
}

func TestCreateSecretTag_EnhancedBindsDevice(t *testing.T) {
	api := newFakeAPI(t)
	ctx := context.Background()

	anon := newService(t, api, tagcache.ModeOnline)
	_, _, err := anon.CreateSecretTag(ctx, "Diary", []byte("purple elephant"), "", models.SecurityEnhanced)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	assert.Zero(t, api.registerStarts)

	laptop := newService(t, api, tagcache.ModeOnline, WithDeviceFingerprint("laptop-1"))
	tag, _, err := laptop.CreateSecretTag(ctx, "Diary", []byte("purple elephant"), "", models.SecurityEnhanced)
	require.NoError(t, err)
	assert.Equal(t, "laptop-1", api.devices[tag.ID])
	require.NoError(t, laptop.Unlock(ctx, tag.ID, []byte("purple elephant")))

	phone := newService(t, api, tagcache.ModeOnline, WithDeviceFingerprint("phone-2"))
	err = phone.Unlock(ctx, tag.ID, []byte("purple elephant"))
	assert.ErrorIs(t, err, errs.ErrAuthenticationFailed)
	assert.False(t, phone.Sessions().IsActive(tag.ID))
}

func TestLockAndResume(t *testing.T) {
	api := newFakeAPI(t)
	s := newService(t, api, tagcache.ModeOnline)
	ctx := context.Background()
	tag := createTag(t, s, "Private", "purple elephant")

	err := s.Resume(ctx, tag.ID, []byte("purple elephant"))
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, s.Unlock(ctx, tag.ID, []byte("purple elephant")))
	before := s.Sessions().RemainingTime(tag.ID)
	require.NoError(t, s.Lock(tag.ID))
	assert.Equal(t, session.StateLocked, s.Sessions().State(tag.ID))

	_, err = s.EncryptForTag(ctx, tag.ID, "x")
	assert.ErrorIs(t, err, errs.ErrSessionNotActive)

	err = s.Resume(ctx, tag.ID, []byte("wrong phrase"))
	assert.ErrorIs(t, err, errs.ErrAuthenticationFailed)
	assert.Equal(t, session.StateLocked, s.Sessions().State(tag.ID))

	require.NoError(t, s.StartLogin(ctx, tag.ID, []byte("purple elephant")))
	assert.True(t, s.Sessions().IsActive(tag.ID))
	assert.LessOrEqual(t, s.Sessions().RemainingTime(tag.ID), before)
}

func TestOnBackground_LocksEverything(t *testing.T) {
	api := newFakeAPI(t)
	s := newService(t, api, tagcache.ModeBorder)
	ctx := context.Background()
	a := createTag(t, s, "Alpha", "purple elephant")
	b := createTag(t, s, "Beta", "green giraffe")
	require.NoError(t, s.Unlock(ctx, a.ID, []byte("purple elephant")))
	require.NoError(t, s.Unlock(ctx, b.ID, []byte("green giraffe")))

	require.NoError(t, s.OnBackground())
	assert.Equal(t, session.StateLocked, s.Sessions().State(a.ID))
	assert.Equal(t, session.StateLocked, s.Sessions().State(b.ID))
}

func TestHandleComposerText(t *testing.T) {
	api := newFakeAPI(t)
	s := newService(t, api, tagcache.ModeOnline)
	ctx := context.Background()
	tag := createTag(t, s, "Private", "purple elephant")
	candidates := []phrase.Candidate{{TagID: tag.ID, Phrase: "purple elephant"}}

	_, ok, err := s.HandleComposerText(ctx, "I saw a purple elephants parade", candidates)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, s.Sessions().IsActive(tag.ID))

	m, ok, err := s.HandleComposerText(ctx, "today: purple elephant.", candidates)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tag.ID, m.TagID)
	assert.True(t, s.Sessions().IsActive(tag.ID))
}

func TestUnlock_NetworkFailureLeavesNothingBehind(t *testing.T) {
	api := newFakeAPI(t)
	creds := credential.New(credential.WithKSF(testKSF))
	s := newService(t, api, tagcache.ModeOnline, WithCredentials(creds))
	tag := createTag(t, s, "Private", "purple elephant")

	api.LoginStartErr = fmt.Errorf("%w: connection refused", errs.ErrNetworkUnavailable)
	err := s.Unlock(context.Background(), tag.ID, []byte("purple elephant"))
	assert.ErrorIs(t, err, errs.ErrNetworkUnavailable)
	assert.False(t, creds.Pending(tag.ID))
	assert.Equal(t, session.StateAbsent, s.Sessions().State(tag.ID))
}

func TestUnlock_ServerRejectsConfirmation(t *testing.T) {
	api := newFakeAPI(t)
	s := newService(t, api, tagcache.ModeOnline)
	tag := createTag(t, s, "Private", "purple elephant")

	api.LoginFinishErr = errs.ErrAuthenticationFailed
	err := s.Unlock(context.Background(), tag.ID, []byte("purple elephant"))
	assert.ErrorIs(t, err, errs.ErrAuthenticationFailed)
	assert.False(t, s.Sessions().IsActive(tag.ID))
}

func TestDeleteSecretTag_EndsSession(t *testing.T) {
	api := newFakeAPI(t)
	s := newService(t, api, tagcache.ModeOnline)
	ctx := context.Background()
	tag := createTag(t, s, "Private", "purple elephant")
	require.NoError(t, s.Unlock(ctx, tag.ID, []byte("purple elephant")))

	require.NoError(t, s.DeleteSecretTag(ctx, tag.ID))
	assert.Equal(t, session.StateAbsent, s.Sessions().State(tag.ID))

	err := s.DeleteSecretTag(ctx, tag.ID)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestDeleteSecretTag_GoneOnServerStillEndsSession(t *testing.T) {
	api := newFakeAPI(t)
	s := newService(t, api, tagcache.ModeOnline)
	ctx := context.Background()
	tag := createTag(t, s, "Private", "purple elephant")
	require.NoError(t, s.Unlock(ctx, tag.ID, []byte("purple elephant")))

	// removed from another device
	require.NoError(t, api.DeleteSecretTag(ctx, tag.ID))

	err := s.DeleteSecretTag(ctx, tag.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Equal(t, session.StateAbsent, s.Sessions().State(tag.ID))
	_, err = s.EncryptForTag(ctx, tag.ID, "dear diary")
	assert.Error(t, err)
}

func TestTimeouts(t *testing.T) {
	api := newFakeAPI(t)
	s := newService(t, api, tagcache.ModeOnline, WithTimeoutOverride(30*time.Second))
	ctx := context.Background()
	tag := createTag(t, s, "Private", "purple elephant")
	require.NoError(t, s.Unlock(ctx, tag.ID, []byte("purple elephant")))

	remaining := s.Sessions().RemainingTime(tag.ID)
	assert.Greater(t, remaining, time.Duration(0))
	assert.LessOrEqual(t, remaining, 30*time.Second)

	require.NoError(t, s.Extend(tag.ID, 10*time.Minute))
	assert.Greater(t, s.Sessions().RemainingTime(tag.ID), 5*time.Minute)

	require.NoError(t, s.Extend(tag.ID, 0))
	assert.LessOrEqual(t, s.Sessions().RemainingTime(tag.ID), 30*time.Second)
}

func TestStartAutoSync(t *testing.T) {
	api := newFakeAPI(t)
	s := newService(t, api, tagcache.ModeOffline)

	ctx, cancel := context.WithCancel(context.Background())
	done := s.StartAutoSync(ctx, 5*time.Millisecond)
	require.Eventually(t, func() bool { return api.lists() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestStartAutoSync_SkipsOnlineMode(t *testing.T) {
	api := newFakeAPI(t)
	s := newService(t, api, tagcache.ModeOnline)

	ctx, cancel := context.WithCancel(context.Background())
	done := s.StartAutoSync(ctx, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done
	assert.Zero(t, api.lists())
}
