package mocks

import (
	"context"
	"io"

	"serial-novel/internal/episode"
	"serial-novel/internal/models"
	"serial-novel/internal/service"

	"github.com/stretchr/testify/mock"
)

// MockStoryService is a mock type for the service.StoryService type
type MockStoryService struct {
	mock.Mock
}

func (_m *MockStoryService) CreateStory(ctx context.Context, info *models.StoryInfo, withOutlines bool) (models.OutlineMap, error) {
	ret := _m.Called(ctx, info, withOutlines)
	var r0 models.OutlineMap
	if v := ret.Get(0); v != nil {
		r0 = v.(models.OutlineMap)
	}
	return r0, ret.Error(1)
}

func (_m *MockStoryService) RegenerateOutlines(ctx context.Context, title string) (models.OutlineMap, error) {
	ret := _m.Called(ctx, title)
	var r0 models.OutlineMap
	if v := ret.Get(0); v != nil {
		r0 = v.(models.OutlineMap)
	}
	return r0, ret.Error(1)
}

func (_m *MockStoryService) ReviseOutline(ctx context.Context, title string, episodeIndex int, feedback string) (models.OutlineMap, error) {
	ret := _m.Called(ctx, title, episodeIndex, feedback)
	var r0 models.OutlineMap
	if v := ret.Get(0); v != nil {
		r0 = v.(models.OutlineMap)
	}
	return r0, ret.Error(1)
}

// FinalizeStory provides a mock function; a []episode.Transition in the third return slot is replayed into the observer.
func (_m *MockStoryService) FinalizeStory(ctx context.Context, title string, observe episode.Observer) (*episode.RunReport, error) {
	return _m.run(_m.Called(ctx, title, observe), observe)
}

func (_m *MockStoryService) GenerateStory(ctx context.Context, title string, observe episode.Observer) (*episode.RunReport, error) {
	return _m.run(_m.Called(ctx, title, observe), observe)
}

func (_m *MockStoryService) run(ret mock.Arguments, observe episode.Observer) (*episode.RunReport, error) {
	if len(ret) > 2 && observe != nil {
		if script, ok := ret.Get(2).([]episode.Transition); ok {
			for _, tr := range script {
				observe(tr)
			}
		}
	}
	var r0 *episode.RunReport
	if v := ret.Get(0); v != nil {
		r0 = v.(*episode.RunReport)
	}
	return r0, ret.Error(1)
}

func (_m *MockStoryService) TranslateStory(ctx context.Context, title, language string) (int, error) {
	ret := _m.Called(ctx, title, language)
	return ret.Int(0), ret.Error(1)
}

func (_m *MockStoryService) ListStories(ctx context.Context) ([]string, error) {
	ret := _m.Called(ctx)
	var r0 []string
	if v := ret.Get(0); v != nil {
		r0 = v.([]string)
	}
	return r0, ret.Error(1)
}

func (_m *MockStoryService) GetStory(ctx context.Context, title string) (*service.StoryView, error) {
	ret := _m.Called(ctx, title)
	var r0 *service.StoryView
	if v := ret.Get(0); v != nil {
		r0 = v.(*service.StoryView)
	}
	return r0, ret.Error(1)
}

func (_m *MockStoryService) GetEpisode(ctx context.Context, title string, episodeIndex int) (*models.EpisodeRecord, error) {
	ret := _m.Called(ctx, title, episodeIndex)
	var r0 *models.EpisodeRecord
	if v := ret.Get(0); v != nil {
		r0 = v.(*models.EpisodeRecord)
	}
	return r0, ret.Error(1)
}

func (_m *MockStoryService) GetTranslation(ctx context.Context, title, language string, episodeIndex int) (*models.TranslatedEpisode, error) {
	ret := _m.Called(ctx, title, language, episodeIndex)
	var r0 *models.TranslatedEpisode
	if v := ret.Get(0); v != nil {
		r0 = v.(*models.TranslatedEpisode)
	}
	return r0, ret.Error(1)
}

func (_m *MockStoryService) DeleteStory(ctx context.Context, title string) error {
	return _m.Called(ctx, title).Error(0)
}

// ExportPDF provides a mock function; a []byte in the second return slot is written to w.
func (_m *MockStoryService) ExportPDF(ctx context.Context, title string, w io.Writer) error {
	ret := _m.Called(ctx, title, w)
	if len(ret) > 1 {
		if data, ok := ret.Get(1).([]byte); ok {
			if _, err := w.Write(data); err != nil {
				return err
			}
		}
	}
	return ret.Error(0)
}

// NewMockStoryService creates a new instance of MockStoryService. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockStoryService(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockStoryService {
	m := &MockStoryService{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ service.StoryService = (*MockStoryService)(nil)
