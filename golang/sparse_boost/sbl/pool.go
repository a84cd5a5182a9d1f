package sbl

import "sync"

//Task is a unit of work executed by a Pool.
type Task interface {
	Execute()
}

//Pool runs tasks on a fixed number of goroutines.
type Pool struct {
	tasks chan Task
	wg    sync.WaitGroup
}

//NewPool starts threadsNum workers.
func NewPool(threadsNum int) *Pool {
	if threadsNum < 1 {
		threadsNum = 1
	}
	pool := &Pool{tasks: make(chan Task, threadsNum)}
	pool.wg.Add(threadsNum)
	for ind := 0; ind < threadsNum; ind++ {
		go func() {
			defer pool.wg.Done()
			for task := range pool.tasks {
				task.Execute()
			}
		}()
	}
	return pool
}

//AddTask queues a task, it blocks while all workers are busy and the queue is full.
func (pool *Pool) AddTask(task Task) {
	pool.tasks <- task
}

//Close tells workers that no more tasks will come.
func (pool *Pool) Close() {
	close(pool.tasks)
}

//WaitAll waits until the workers have drained the queue. Close must be called first.
func (pool *Pool) WaitAll() {
	pool.wg.Wait()
}

//TaskFindBestSplit scans one feature column for all frontier nodes.
type TaskFindBestSplit struct {
	result  [][]SplitPoint
	feature int
	scan    func(feature int) []SplitPoint
}

//Execute stores the scan result under the task's feature.
func (task *TaskFindBestSplit) Execute() {
	task.result[task.feature] = task.scan(task.feature)
}
