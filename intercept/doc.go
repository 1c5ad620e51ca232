/*
Package intercept pauses proxied messages until an operator decides their fate.

An Interceptor installed on a goproxy.ProxyHttpServer dumps every matching
request or response into a Queue, and the goroutine serving that connection
waits. From the console the operator lists the queue, edits messages in an
external editor, and releases or drops them:

	q := intercept.NewQueue()
	i := intercept.NewInterceptor(q)
	i.SetDirections(true, false)
	i.Install(proxy)
	console.LoadPlugins(registry, logger, intercept.Commands(i, intercept.DefaultEditor()))

A released message continues with its possibly edited content. A dropped one
is answered with a 502. Content that no longer parses as HTTP drops the
exchange instead of leaving its client hanging.
*/
package intercept
