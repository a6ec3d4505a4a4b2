/*
Package rabbitmq provides a RabbitMQ transport for the parking bus.
Destinations map to durable queues; publishing uses the destination as routing key.
NewWithAMQPConn returns an adapter whose publisher and consumers survive broker restarts.
*/
package rabbitmq
