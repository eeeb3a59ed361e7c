package publish

import (
	"context"
	"net/http"
	"os"

	"github.com/evergreen-ci/utility"
	"github.com/google/go-github/v70/github"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
)

// githubService implements ReleaseService against the GitHub Releases API.
type githubService struct {
	token string
}

// NewGitHubService returns a ReleaseService backed by GitHub, authenticated
// with the given OAuth token.
func NewGitHubService(token string) (ReleaseService, error) {
	if token == "" {
		return nil, errors.New("github token must be set")
	}
	return &githubService{token: token}, nil
}

func (s *githubService) client() (*http.Client, *github.Client) {
	httpClient := utility.GetOAuth2HTTPClient(s.token)
	return httpClient, github.NewClient(httpClient)
}

func (s *githubService) EnsureRelease(ctx context.Context, release ReleaseHandle) (int64, error) {
	httpClient, client := s.client()
	defer utility.PutHTTPClient(httpClient)

	existing, resp, err := client.Repositories.GetReleaseByTag(ctx, release.Owner, release.Repo, release.Tag)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err == nil {
		// an existing release's title and notes are human-authored;
		// leave the record entirely alone.
		return existing.GetID(), nil
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		return 0, classify(errors.Wrapf(err, "problem looking up release '%s'", release), resp)
	}

	created, cresp, err := client.Repositories.CreateRelease(ctx, release.Owner, release.Repo, &github.RepositoryRelease{
		TagName: utility.ToStringPtr(release.Tag),
	})
	if cresp != nil {
		defer cresp.Body.Close()
	}
	if err != nil {
		return 0, classify(errors.Wrapf(err, "problem creating release '%s'", release), cresp)
	}

	grip.Infof("created release for tag '%s'", release.Tag)

	return created.GetID(), nil
}

func (s *githubService) ListAssets(ctx context.Context, release ReleaseHandle, releaseID int64) (map[string]int64, error) {
	httpClient, client := s.client()
	defer utility.PutHTTPClient(httpClient)

	assets := map[string]int64{}
	opts := &github.ListOptions{PerPage: 100}
	for {
		page, resp, err := client.Repositories.ListReleaseAssets(ctx, release.Owner, release.Repo, releaseID, opts)
		if resp != nil {
			defer resp.Body.Close()
		}
		if err != nil {
			return nil, classify(errors.Wrapf(err, "problem listing assets for '%s'", release), resp)
		}
		for _, asset := range page {
			assets[asset.GetName()] = asset.GetID()
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return assets, nil
}

func (s *githubService) DeleteAsset(ctx context.Context, release ReleaseHandle, assetID int64) error {
	httpClient, client := s.client()
	defer utility.PutHTTPClient(httpClient)

	resp, err := client.Repositories.DeleteReleaseAsset(ctx, release.Owner, release.Repo, assetID)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return classify(errors.Wrapf(err, "problem deleting asset %d from '%s'", assetID, release), resp)
	}
	return nil
}

func (s *githubService) UploadAsset(ctx context.Context, release ReleaseHandle, releaseID int64, name, path string) error {
	httpClient, client := s.client()
	defer utility.PutHTTPClient(httpClient)

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "problem opening archive '%s'", path)
	}
	defer func() { grip.Debug(f.Close()) }()

	_, resp, err := client.Repositories.UploadReleaseAsset(ctx, release.Owner, release.Repo, releaseID, &github.UploadOptions{
		Name: name,
	}, f)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return classify(errors.Wrapf(err, "problem uploading asset '%s' to '%s'", name, release), resp)
	}
	return nil
}

// classify marks service-side and connection failures as transient so the
// publisher retries them; client-side failures (auth, permissions, bad
// requests) stay terminal.
func classify(err error, resp *github.Response) error {
	if err == nil {
		return nil
	}
	if resp == nil {
		return MakeTransient(err)
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return MakeTransient(err)
	}
	return err
}
