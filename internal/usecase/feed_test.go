package usecase

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/vadimbarashkov/url-scanner/internal/entity"
)

const testFeed = `http://phish-a.example/login
  https://phish-b.example/verify

ftp://files.example/payload
not a url
# comment
http://phish-a.example/login
`

func feedServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv
}

type FeedUseCaseTestSuite struct {
	suite.Suite
	errUnknown error
	now        time.Time
	repoMock   *mockBlacklistRepository
}

func (suite *FeedUseCaseTestSuite) SetupSuite() {
	suite.errUnknown = errors.New("unknown error")
	suite.now = time.Date(2024, 10, 1, 15, 30, 0, 0, time.UTC)
}

func (suite *FeedUseCaseTestSuite) SetupSubTest() {
	suite.repoMock = new(mockBlacklistRepository)
}

func (suite *FeedUseCaseTestSuite) TearDownSubTest() {
	suite.repoMock.AssertExpectations(suite.T())
}

func (suite *FeedUseCaseTestSuite) newUseCase(srv *httptest.Server) *FeedUseCase {
	uc := NewFeedUseCase(srv.Client(), srv.URL, "openphish", suite.repoMock, discardLogger())
	uc.now = fixedClock(suite.now)
	return uc
}

func (suite *FeedUseCaseTestSuite) TestSync() {
	ctx := context.Background()
	parsed := []string{"http://phish-a.example/login", "https://phish-b.example/verify"}

	suite.Run("unavailable feed leaves blacklist untouched", func() {
		uc := suite.newUseCase(feedServer(suite.T(), http.StatusServiceUnavailable, "down"))

		n, err := uc.Sync(ctx)

		suite.Error(err)
		suite.ErrorIs(err, ErrUnexpectedStatus)
		suite.Zero(n)
		suite.repoMock.AssertNotCalled(suite.T(), "Insert", mock.Anything, mock.Anything)
	})

	suite.Run("network error", func() {
		srv := feedServer(suite.T(), http.StatusOK, testFeed)
		uc := suite.newUseCase(srv)
		srv.Close()

		n, err := uc.Sync(ctx)

		suite.Error(err)
		suite.Zero(n)
	})

	suite.Run("empty feed", func() {
		uc := suite.newUseCase(feedServer(suite.T(), http.StatusOK, "\n\n"))

		n, err := uc.Sync(ctx)

		suite.NoError(err)
		suite.Zero(n)
	})

	suite.Run("existing lookup error", func() {
		uc := suite.newUseCase(feedServer(suite.T(), http.StatusOK, testFeed))

		suite.repoMock.
			On("ExistingURLs", ctx, parsed).
			Once().
			Return(nil, suite.errUnknown)

		_, err := uc.Sync(ctx)

		suite.ErrorIs(err, suite.errUnknown)
	})

	suite.Run("inserts only new urls", func() {
		uc := suite.newUseCase(feedServer(suite.T(), http.StatusOK, testFeed))

		suite.repoMock.
			On("ExistingURLs", ctx, parsed).
			Once().
			Return(map[string]struct{}{"http://phish-a.example/login": {}}, nil)
		suite.repoMock.
			On("Insert", ctx, []entity.BlacklistEntry{{
				URL:       "https://phish-b.example/verify",
				Category:  entity.BlacklistCategoryPhishing,
				Reason:    "OpenPhish public feed",
				Source:    "openphish",
				DateAdded: time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
				Active:    true,
			}}).
			Once().
			Return(int64(1), nil)

		n, err := uc.Sync(ctx)

		suite.NoError(err)
		suite.Equal(1, n)
	})

	suite.Run("nothing new", func() {
		uc := suite.newUseCase(feedServer(suite.T(), http.StatusOK, testFeed))

		suite.repoMock.
			On("ExistingURLs", ctx, parsed).
			Once().
			Return(map[string]struct{}{
				"http://phish-a.example/login":   {},
				"https://phish-b.example/verify": {},
			}, nil)

		n, err := uc.Sync(ctx)

		suite.NoError(err)
		suite.Zero(n)
	})

	suite.Run("insert error", func() {
		uc := suite.newUseCase(feedServer(suite.T(), http.StatusOK, testFeed))

		suite.repoMock.On("ExistingURLs", ctx, parsed).Once().Return(map[string]struct{}{}, nil)
		suite.repoMock.On("Insert", ctx, mock.Anything).Once().Return(int64(0), suite.errUnknown)

		_, err := uc.Sync(ctx)

		suite.ErrorIs(err, suite.errUnknown)
	})
}

func TestFeedUseCaseTestSuite(t *testing.T) {
	suite.Run(t, new(FeedUseCaseTestSuite))
}

func TestFeedUseCase_SyncTwiceInsertsNothingNew(t *testing.T) {
	srv := feedServer(t, http.StatusOK, testFeed)
	store := newMemoryStore()
	uc := NewFeedUseCase(srv.Client(), srv.URL, "openphish", store, discardLogger())

	n, err := uc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = uc.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, store.blacklist, 2)
}

func TestFeedUseCase_FetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	uc := NewFeedUseCase(srv.Client(), srv.URL, "openphish", newMemoryStore(), discardLogger(),
		WithFeedTimeout(20*time.Millisecond))

	_, err := uc.Sync(context.Background())

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseFeed(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "mixed lines",
			input: testFeed,
			want:  []string{"http://phish-a.example/login", "https://phish-b.example/verify"},
		},
		{
			name:  "empty",
			input: "",
			want:  []string{},
		},
		{
			name:  "only lowercase http prefixes",
			input: "HTTP://UPPER.EXAMPLE/\nftp://x.example\nhttpx://y.example\nhttps://ok.example\n",
			want:  []string{"https://ok.example"},
		},
		{
			name:  "over-long line is skipped",
			input: "http://a.example/1\n" + strings.Repeat("x", 2<<20) + "\nhttp://b.example/2\n",
			want:  []string{"http://a.example/1", "http://b.example/2"},
		},
		{
			name:  "over-long url line is skipped",
			input: "http://" + strings.Repeat("a", 128*1024) + "\nhttp://b.example/2",
			want:  []string{"http://b.example/2"},
		},
		{
			name:  "windows line endings",
			input: "http://a.example\r\nhttp://b.example\r\n",
			want:  []string{"http://a.example", "http://b.example"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFeed(strings.NewReader(tt.input))

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
