package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = &Repositories{
			User:  NewUserRepository(f.db),
			Token: NewTokenRepository(f.db),
		}
	})
	return f.repos
}

// GetUserRepository returns the user repository instance
func (f *Factory) GetUserRepository() UserRepository {
	return f.GetRepositories().User
}

// GetTokenRepository returns the token repository instance
func (f *Factory) GetTokenRepository() TokenRepository {
	return f.GetRepositories().Token
}

var (
	globalFactory *Factory
	globalMu      sync.Mutex
)

// InitGlobalFactory installs the process-wide factory.
func InitGlobalFactory(db *gorm.DB) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalFactory = NewFactory(db)
}

// GetGlobalFactory returns the process-wide factory.
func GetGlobalFactory() *Factory {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalFactory
}
