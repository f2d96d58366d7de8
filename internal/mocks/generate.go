// Package mocks provides mock implementations for testing the herald bulk engine.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the
// core port interfaces. The mocks are generated using go:generate directives and
// provide a fluent API for setting up test expectations. The generated files are
// committed so tests build without a prior go generate step.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockBulkJobRepository(ctrl)
//	mockRepo.EXPECT().GetByID(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

// Generate mock for BulkJobRepository interface from internal/core package.
// This creates MockBulkJobRepository with methods for all BulkJobRepository interface methods:
// Create, GetByID, MarkProcessing, AddReceived, AddEnqueued, SignalShardComplete
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=bulk_job_repository_mock.go github.com/herald-notify/herald/internal/core BulkJobRepository

// Generate mock for RecipientRepository interface from internal/core package.
// This creates MockRecipientRepository with methods for all RecipientRepository interface methods:
// Insert, QueryShard, UpdateStatus, Stats
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=recipient_repository_mock.go github.com/herald-notify/herald/internal/core RecipientRepository

// Generate mock for TaskRepository interface from internal/core package.
// This creates MockTaskRepository with methods for all TaskRepository interface methods:
// Enqueue, ReserveNext, WaitForNotification, Heartbeat, Complete, Fail, RequeueExpired
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=task_repository_mock.go github.com/herald-notify/herald/internal/core TaskRepository

// Generate mock for ReaperRepository interface from internal/core package.
// This creates MockReaperRepository with methods for all ReaperRepository interface methods:
// RequeueExpired, DeleteOldTasks
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=reaper_repository_mock.go github.com/herald-notify/herald/internal/core ReaperRepository

// Generate mock for PayloadStore interface from internal/core package.
// This creates MockPayloadStore with methods for all PayloadStore interface methods:
// Put, Get
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=payload_store_mock.go github.com/herald-notify/herald/internal/core PayloadStore

// Generate mock for Dispatcher interface from internal/core package.
// This creates MockDispatcher with methods for all Dispatcher interface methods:
// Submit
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=dispatcher_mock.go github.com/herald-notify/herald/internal/core Dispatcher

// Generate mock for CacheRepository interface from internal/core package.
// This creates MockCacheRepository with methods for all CacheRepository interface methods:
// Get, Set, SetIfNotExists, Delete
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/herald-notify/herald/internal/core CacheRepository
