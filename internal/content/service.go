package content

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/content/entity"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/content/repo"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/geo"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/subscription"
	subentity "github.com/ovaphlow/pitchfork/service-streaming-core/internal/subscription/entity"
	"github.com/ovaphlow/pitchfork/service-streaming-core/pkg/utilities"
)

var ErrContentNotFound = errors.New("content not found")

// Catalog is the read side of the catalog collaborator.
type Catalog interface {
	GetContent(ctx context.Context, id string) (*entity.Content, error)
}

// AccessRequest identifies the content and the requester. UserID is empty for
// anonymous viewers.
type AccessRequest struct {
	ContentID string
	UserID    string
	Origin    geo.Origin
}

// Service gathers the inputs of Evaluate and Select from the collaborators.
type Service struct {
	catalog Catalog
	subs    subscription.Resolver
	geo     geo.OriginResolver
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewService(catalog Catalog, subs subscription.Resolver, g geo.OriginResolver, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if g == nil {
		g = geo.Unknown{}
	}
	return &Service{catalog: catalog, subs: subs, geo: g, logger: logger, now: time.Now}
}

// CheckAccess loads the content and the viewer context and evaluates
// entitlement. A collaborator failure yields an error wrapping
// utilities.ErrDependencyUnavailable unless a rule that needs no collaborator
// data already denies access.
func (s *Service) CheckAccess(ctx context.Context, req AccessRequest) (*entity.Content, Decision, error) {
	c, err := s.catalog.GetContent(ctx, req.ContentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, Decision{}, ErrContentNotFound
		}
		return nil, Decision{}, utilities.Unavailable("load content", err)
	}

	viewer, err := s.viewer(ctx, c, req)
	if err != nil {
		if d := evaluate(c, viewer, rules[:localRules]); !d.Allowed {
			return c, d, nil
		}
		s.logger.Warnw("entitlement indeterminate", "content_id", c.ID, "user_id", req.UserID, "err", err)
		return c, Decision{}, err
	}

	d := Evaluate(c, viewer)
	if !d.Allowed {
		s.logger.Debugw("access denied", "content_id", c.ID, "user_id", req.UserID, "reason", d.Reason)
	}
	return c, d, nil
}

// Playback checks access and, when allowed, selects the asset bundle.
func (s *Service) Playback(ctx context.Context, req AccessRequest, prefs Preferences) (Bundle, error) {
	c, d, err := s.CheckAccess(ctx, req)
	if err != nil {
		return Bundle{}, err
	}
	if err := d.Err(); err != nil {
		return Bundle{}, err
	}
	b, err := Select(c, prefs)
	if err != nil {
		s.logger.Debugw("no playable asset", "content_id", c.ID, "quality", prefs.Quality, "format", prefs.Format)
		return Bundle{}, err
	}
	return b, nil
}

// viewer resolves only what the content's rules will read: the subscription
// when the content requires one, the country when it is geo blocked.
func (s *Service) viewer(ctx context.Context, c *entity.Content, req AccessRequest) (Viewer, error) {
	v := Viewer{Now: s.now()}
	g, gctx := errgroup.WithContext(ctx)

	var sub *subentity.State
	if c.Visibility.RequiresSubscription && req.UserID != "" {
		g.Go(func() error {
			st, err := s.subs.CurrentSubscription(gctx, req.UserID)
			if err != nil {
				if !errors.Is(err, utilities.ErrDependencyUnavailable) {
					err = utilities.Unavailable("resolve subscription", err)
				}
				return err
			}
			sub = st
			return nil
		})
	}

	var country string
	if c.Visibility.GeoBlocked {
		g.Go(func() error {
			code, err := s.geo.Country(gctx, req.Origin)
			if err != nil {
				return utilities.Unavailable("resolve country", err)
			}
			country = code
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return v, err
	}
	v.Subscription = sub
	v.CountryCode = country
	return v, nil
}
