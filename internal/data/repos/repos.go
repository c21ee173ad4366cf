package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/withdrawal-aggregator/internal/data/repos/requests"
	"github.com/yungbote/withdrawal-aggregator/internal/pkg/logger"
)

type RequestSource = requests.Source

type Repos struct {
	Requests RequestSource
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Requests: requests.NewRequestRepo(db, log),
	}
}
