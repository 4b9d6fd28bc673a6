// Package mocks provides mock implementations for testing the postpilot scheduler.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the
// core ports. The mocks are generated using go:generate directives and provide a
// fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockStore := mocks.NewMockJobStore(ctrl)
//	mockStore.EXPECT().LoadAll(gomock.Any()).Return(jobs, nil)
package mocks

// Generate mocks for the scheduler ports from internal/core:
// JobStore (LoadAll, SaveAll, Healthy), Poster (Post), PosterFactory
// (PosterFor), EventPublisher (Publish), and CacheRepository (Set, Get,
// Delete, SetTTL, SetIfNotExists, Health).
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=core_mocks.go github.com/postpilot/postpilot-go/internal/core JobStore,Poster,PosterFactory,EventPublisher,CacheRepository
