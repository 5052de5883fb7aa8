package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmeshcher/testermarket/internal/model"
)

// specificDetails — JSON-представление полезной нагрузки задания.
type specificDetails struct {
	App       *model.AppDetails       `json:"app,omitempty"`
	Marketing *model.MarketingDetails `json:"marketing,omitempty"`
	Survey    *model.SurveyDetails    `json:"survey,omitempty"`
	Youtube   *model.YoutubeDetails   `json:"youtube,omitempty"`
}

func encodeSpecific(s *model.SpecificTask) (details, roster []byte, err error) {
	if s == nil {
		return nil, nil, errors.New("specific task is missing")
	}

	details, err = json.Marshal(specificDetails{
		App:       s.App,
		Marketing: s.Marketing,
		Survey:    s.Survey,
		Youtube:   s.Youtube,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal specific task: %w", err)
	}

	if s.Roster != nil {
		roster, err = json.Marshal(s.Roster)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal roster: %w", err)
		}
	}
	return details, roster, nil
}

func decodeSpecific(details, roster []byte) (*model.SpecificTask, error) {
	var d specificDetails
	if err := json.Unmarshal(details, &d); err != nil {
		return nil, fmt.Errorf("decode specific task: %w", err)
	}

	s := &model.SpecificTask{
		App:       d.App,
		Marketing: d.Marketing,
		Survey:    d.Survey,
		Youtube:   d.Youtube,
	}

	if len(roster) > 0 && string(roster) != "null" {
		s.Roster = model.NewRoster()
		if err := json.Unmarshal(roster, s.Roster); err != nil {
			return nil, fmt.Errorf("decode roster: %w", err)
		}
	}
	return s, nil
}

func respondedOrEmpty(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
